package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/balticlsc/balticlsc-module/internal/relay"
	"github.com/balticlsc/balticlsc-module/internal/serverutil"
	"github.com/balticlsc/balticlsc-module/internal/settings"
	"github.com/balticlsc/balticlsc-module/pkg/access/ftp"
	"github.com/balticlsc/balticlsc-module/pkg/access/sshconn"
	"github.com/balticlsc/balticlsc-module/pkg/config"
	"github.com/balticlsc/balticlsc-module/pkg/config/mongostore"
	"github.com/balticlsc/balticlsc-module/pkg/consumer"
	"github.com/balticlsc/balticlsc-module/pkg/gateway"
	"github.com/balticlsc/balticlsc-module/pkg/lg"
	"github.com/balticlsc/balticlsc-module/pkg/notify"
	"github.com/balticlsc/balticlsc-module/pkg/pin"
	"github.com/balticlsc/balticlsc-module/pkg/status"
	"github.com/balticlsc/balticlsc-module/pkg/token"
	"github.com/balticlsc/balticlsc-module/pkg/workerpool"
)

const serviceName = "balticlsc-module"

func main() {
	logCfg, settingsPath := lg.NewConfigFromFlags(serviceName)
	log := lg.New(logCfg)
	defer log.Sync()

	if err := run(log, settingsPath); err != nil {
		log.Error("module stopped", lg.Err(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(log lg.Logger, settingsPath string) error {
	s, err := settings.Load(settingsPath)
	if err != nil {
		return err
	}
	uid := s.Module.InstanceUID
	log = log.With(lg.String("instance_uid", uid), lg.String("module", s.Module.Name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = lg.Attach(ctx, log)

	var mirror notify.Mirror
	if s.KafkaMirror() {
		if mirror, err = notify.NewKafkaMirror(s.Kafka.Brokers, s.Kafka.MirrorTopic); err != nil {
			return err
		}
	}
	notifier := notify.New(notify.Config{
		TokenURL:         s.BatchManager.TokenEndpoint,
		AckURL:           s.BatchManager.AckEndpoint,
		Timeout:          s.BatchManager.Timeout,
		FailureThreshold: s.BatchManager.FailureThreshold,
		OpenTimeout:      s.BatchManager.OpenTimeout,
	}, nil, mirror, log)
	defer notifier.Close()

	inputs, outputs, err := loadPinsOrReport(ctx, log, s, notifier, uid)
	if err != nil {
		return err
	}

	routine := relay.New(relay.Config{}, map[string]relay.Opener{
		"ftp": relay.FTP(ftp.NewConnector(ftp.Options{
			MaxAttempts: s.Access.MaxAttempts,
			Timeout:     s.Access.Timeout,
			PassiveHost: s.Access.FTPPassiveHost,
		}, log)),
		"ssh": relay.SSH(sshconn.NewConnector(sshconn.Options{
			MaxAttempts: s.Access.MaxAttempts,
			Timeout:     s.Access.Timeout,
		}, log)),
	})

	// tasks outlive the signal so queued work can drain on shutdown
	taskCtx, cancelTasks := context.WithCancel(lg.Attach(context.Background(), log))
	defer cancelTasks()

	pool := workerpool.NewPool[*gateway.Task](s.Pool.Workers, s.Pool.Queue, log)
	node := gateway.NewNode(uid, inputs, outputs, notifier, status.NewTracker(), log)
	gw := gateway.New(taskCtx, node, routine, pool, gateway.Options{TaskTimeout: s.Pool.TaskTimeout}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg := serverutil.DefaultServerConfig()
		cfg.Addr = s.Address()
		cfg.ShutdownTimeout = s.ShutdownTimeout
		return serverutil.RunServer(gctx, gw.Handler(), cfg, log)
	})
	if s.KafkaIntake() {
		c, err := consumer.NewConsumer[[]byte](consumer.Config{
			Brokers: s.Kafka.Brokers,
			GroupID: s.Kafka.GroupID,
			Topic:   s.Kafka.InputTopic,
		}, consumer.Raw, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer c.Close()
			log.Info("reading tokens from kafka", lg.String("topic", s.Kafka.InputTopic))
			return c.Run(gctx, func(ctx context.Context, raw []byte) error {
				return gw.Submit(ctx, raw).Err
			})
		})
	}
	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if derr := pool.Stop(drainCtx); derr != nil {
		log.Warn("tasks still running at shutdown", lg.Int32("active", pool.ActiveWorkers()), lg.Err(derr))
	}
	cancelTasks()
	return err
}

// loadPinsOrReport loads the pins and, when they are rejected, tells the
// batch manager with a final failed ack before the module exits.
func loadPinsOrReport(ctx context.Context, log lg.Logger, s *settings.Settings, n gateway.Notifier, uid string) (pin.Index, pin.Index, error) {
	inputs, outputs, err := loadPins(log, s)
	if err != nil {
		log.Error("pin configuration rejected", lg.Err(err))
		_ = n.SendAck(ctx, token.Failed(uid, err.Error()))
		return nil, nil, err
	}
	log.Info("pins loaded", lg.Strings("inputs", inputs.Names()), lg.Strings("outputs", outputs.Names()))
	return inputs, outputs, nil
}

// loadPins reads the pin configuration document from the configured store.
func loadPins(log lg.Logger, s *settings.Settings) (pin.Index, pin.Index, error) {
	storeType, err := config.ParseStoreType(s.Pins.Store)
	if err != nil {
		return nil, nil, &pin.ConfigError{Index: -1, Err: err}
	}

	var (
		cfg    any
		source string
	)
	switch storeType {
	case config.MongoStore:
		id := s.Pins.Mongo.ID
		if id == "" {
			id = s.Module.Name
		}
		cfg = &config.MongoConfig{URI: s.Pins.Mongo.URI, DBName: s.Pins.Mongo.Database, CollName: s.Pins.Mongo.Collection, ID: id}
		source = fmt.Sprintf("mongodb %s.%s/%s", s.Pins.Mongo.Database, s.Pins.Mongo.Collection, id)
	default:
		cfg = &config.FileConfig{Path: s.Pins.FilePath}
		source = s.Pins.FilePath
	}

	store, err := config.NewStore(storeType, cfg)
	if err != nil {
		return nil, nil, &pin.ConfigError{Source: source, Index: -1, Err: err}
	}
	if ms, ok := store.(*mongostore.MongoStore); ok {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Close(ctx)
		}()
	}

	inputs, outputs, err := pin.LoadStore(store, source, log)
	if err != nil {
		return nil, nil, err
	}

	// pins are read once; a changed document needs a restart
	err = store.Watch(func() {
		log.Warn("pin configuration changed, restart the module to apply it", lg.String("source", source))
	})
	if err != nil && !errors.Is(err, mongostore.ErrWatchUnsupported) {
		log.Warn("pin configuration is not watched", lg.Err(err))
	}
	return inputs, outputs, nil
}
