package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9100", s.Address())
	assert.Equal(t, "http://127.0.0.1:7000/token", s.BatchManager.TokenEndpoint)
	assert.Equal(t, "http://127.0.0.1:7000/ack", s.BatchManager.AckEndpoint)
	assert.Equal(t, "/app/module/configs/pins.json", s.Pins.FilePath)
	assert.Equal(t, "file", s.Pins.Store)
	assert.Equal(t, 10, s.Access.MaxAttempts)
	assert.Equal(t, 10*time.Second, s.BatchManager.Timeout)
	assert.NotEmpty(t, s.Module.InstanceUID, "instance uid is generated when unset")
	assert.False(t, s.KafkaIntake())
	assert.False(t, s.KafkaMirror())
}

func TestLoad_SysEnvironment(t *testing.T) {
	t.Setenv("SYS_APP_IP", "127.0.0.1")
	t.Setenv("SYS_APP_PORT", "8080")
	t.Setenv("SYS_MODULE_INSTANCE_UID", "module-1")
	t.Setenv("SYS_MODULE_NAME", "face-recogniser")
	t.Setenv("SYS_BATCH_MANAGER_TOKEN_ENDPOINT", "http://bm:7000/token")
	t.Setenv("SYS_BATCH_MANAGER_ACK_ENDPOINT", "http://bm:7000/ack")
	t.Setenv("SYS_PIN_CONFIG_FILE_PATH", "/tmp/pins.json")
	t.Setenv("BALTICLSC_POOL_WORKERS", "2")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", s.Address())
	assert.Equal(t, "module-1", s.Module.InstanceUID)
	assert.Equal(t, "face-recogniser", s.Module.Name)
	assert.Equal(t, "http://bm:7000/token", s.BatchManager.TokenEndpoint)
	assert.Equal(t, "http://bm:7000/ack", s.BatchManager.AckEndpoint)
	assert.Equal(t, "/tmp/pins.json", s.Pins.FilePath)
	assert.Equal(t, 2, s.Pool.Workers)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  workers: 8
  task_timeout: 5m
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  input_topic: tokens
access:
  ftp_passive_host: 203.0.113.7
`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Pool.Workers)
	assert.Equal(t, 5*time.Minute, s.Pool.TaskTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, s.Kafka.Brokers)
	assert.True(t, s.KafkaIntake())
	assert.False(t, s.KafkaMirror())
	assert.Equal(t, "203.0.113.7", s.Access.FTPPassiveHost)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad endpoint", func(t *testing.T) {
		t.Setenv("SYS_BATCH_MANAGER_ACK_ENDPOINT", "not a url")
		_, err := Load("")
		assert.ErrorContains(t, err, "AckEndpoint")
	})
	t.Run("bad store", func(t *testing.T) {
		t.Setenv("BALTICLSC_PINS_STORE", "s3")
		_, err := Load("")
		assert.ErrorContains(t, err, "Store")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
