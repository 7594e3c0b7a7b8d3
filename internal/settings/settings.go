// Package settings loads the node's environment-level configuration:
// defaults, an optional YAML file and the SYS_* variables set by the
// cluster when the module is deployed.
package settings

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Settings struct {
	App struct {
		IP   string `mapstructure:"ip" validate:"required,ip"`
		Port int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	} `mapstructure:"app"`

	Module struct {
		InstanceUID string `mapstructure:"instance_uid"`
		Name        string `mapstructure:"name"`
		Description string `mapstructure:"description"`
	} `mapstructure:"module"`

	BatchManager struct {
		TokenEndpoint    string        `mapstructure:"token_endpoint" validate:"required,url"`
		AckEndpoint      string        `mapstructure:"ack_endpoint" validate:"required,url"`
		Timeout          time.Duration `mapstructure:"timeout"`
		FailureThreshold uint32        `mapstructure:"failure_threshold"`
		OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	} `mapstructure:"batch_manager"`

	Pins struct {
		Store    string `mapstructure:"store" validate:"oneof=file mongo mongodb"`
		FilePath string `mapstructure:"file_path" validate:"required_if=Store file"`
		Mongo    struct {
			URI        string `mapstructure:"uri"`
			Database   string `mapstructure:"database"`
			Collection string `mapstructure:"collection"`
			ID         string `mapstructure:"id"`
		} `mapstructure:"mongo"`
	} `mapstructure:"pins"`

	Pool struct {
		Workers     int           `mapstructure:"workers" validate:"gte=1"`
		Queue       int           `mapstructure:"queue" validate:"gte=0"`
		TaskTimeout time.Duration `mapstructure:"task_timeout"`
	} `mapstructure:"pool"`

	Kafka struct {
		Brokers     []string `mapstructure:"brokers"`
		GroupID     string   `mapstructure:"group_id"`
		InputTopic  string   `mapstructure:"input_topic"`
		MirrorTopic string   `mapstructure:"mirror_topic"`
	} `mapstructure:"kafka"`

	Access struct {
		MaxAttempts    int           `mapstructure:"max_attempts" validate:"gte=1"`
		Timeout        time.Duration `mapstructure:"timeout"`
		FTPPassiveHost string        `mapstructure:"ftp_passive_host"`
	} `mapstructure:"access"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address is the listen address of the token endpoint.
func (s *Settings) Address() string {
	return net.JoinHostPort(s.App.IP, strconv.Itoa(s.App.Port))
}

// KafkaIntake reports whether tokens should also be read from Kafka.
func (s *Settings) KafkaIntake() bool {
	return len(s.Kafka.Brokers) > 0 && s.Kafka.InputTopic != ""
}

// KafkaMirror reports whether sent tokens should be mirrored to Kafka.
func (s *Settings) KafkaMirror() bool {
	return len(s.Kafka.Brokers) > 0 && s.Kafka.MirrorTopic != ""
}

// Variables injected by the cluster into every module container.
var sysEnv = map[string]string{
	"app.ip":                       "SYS_APP_IP",
	"app.port":                     "SYS_APP_PORT",
	"module.instance_uid":          "SYS_MODULE_INSTANCE_UID",
	"module.name":                  "SYS_MODULE_NAME",
	"module.description":           "SYS_MODULE_DESCRIPTION",
	"batch_manager.token_endpoint": "SYS_BATCH_MANAGER_TOKEN_ENDPOINT",
	"batch_manager.ack_endpoint":   "SYS_BATCH_MANAGER_ACK_ENDPOINT",
	"pins.file_path":               "SYS_PIN_CONFIG_FILE_PATH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.ip", "0.0.0.0")
	v.SetDefault("app.port", 9100)
	v.SetDefault("module.instance_uid", "")
	v.SetDefault("module.name", "")
	v.SetDefault("module.description", "")
	v.SetDefault("batch_manager.token_endpoint", "http://127.0.0.1:7000/token")
	v.SetDefault("batch_manager.ack_endpoint", "http://127.0.0.1:7000/ack")
	v.SetDefault("batch_manager.timeout", 10*time.Second)
	v.SetDefault("batch_manager.failure_threshold", 5)
	v.SetDefault("batch_manager.open_timeout", 30*time.Second)
	v.SetDefault("pins.store", "file")
	v.SetDefault("pins.file_path", "/app/module/configs/pins.json")
	v.SetDefault("pins.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("pins.mongo.database", "balticlsc")
	v.SetDefault("pins.mongo.collection", "pins")
	v.SetDefault("pins.mongo.id", "")
	v.SetDefault("pool.workers", 4)
	v.SetDefault("pool.queue", 16)
	v.SetDefault("pool.task_timeout", time.Duration(0))
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_id", "balticlsc-module")
	v.SetDefault("kafka.input_topic", "")
	v.SetDefault("kafka.mirror_topic", "")
	v.SetDefault("access.max_attempts", 10)
	v.SetDefault("access.timeout", 10*time.Second)
	v.SetDefault("access.ftp_passive_host", "")
	v.SetDefault("shutdown_timeout", 30*time.Second)
}

var validate = validator.New()

// Load reads settings. path may be empty; other keys can be overridden
// with BALTICLSC_<SECTION>_<KEY> variables, e.g. BALTICLSC_POOL_WORKERS.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BALTICLSC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range sysEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if s.Module.InstanceUID == "" {
		s.Module.InstanceUID = uuid.NewString()
	}
	if err := validate.Struct(&s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid setting %s: failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}
