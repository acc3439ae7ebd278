package cmd

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/seat-scheduler/internal/application/usecases"
	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/crypto"
	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/library"
	"github.com/example/seat-scheduler/internal/lock"
	"github.com/example/seat-scheduler/internal/logging"
	"github.com/example/seat-scheduler/internal/metrics"
	"github.com/example/seat-scheduler/internal/trace"
)

const traceChannel = "seatsched:trace"

// app holds the process-wide collaborators shared by the commands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	hub     *trace.Hub
	metrics *metrics.Metrics
	locker  lock.Locker
	redis   *redis.Client
}

func newApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		hub:     trace.NewHub(logger, 0),
		metrics: metrics.New(),
		locker:  lock.NewLocal(),
	}
	if cfg.Redis.Addr != "" {
		client, err := lock.NewRedis(cfg.Redis)
		if err != nil {
			_ = logger.Sync()
			return nil, err
		}
		a.redis = client
		a.locker = lock.NewRedisLocker(client)
		a.hub.WithPublisher(trace.RedisPublisher{Client: client, Channel: traceChannel})
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}
	return a, nil
}

func (a *app) close() {
	a.hub.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}

// revealer returns the credential decrypter, or nil when CRED_ENC_KEY is
// unset.
func (a *app) revealer() (config.Revealer, error) {
	if len(a.cfg.CredEncKey) == 0 {
		return nil, nil
	}
	aead, err := crypto.New(a.cfg.CredEncKey)
	if err != nil {
		return nil, err
	}
	return aead, nil
}

func (a *app) loadUsers() (config.UsersFile, error) {
	rv, err := a.revealer()
	if err != nil {
		return config.UsersFile{}, err
	}
	return config.LoadUsers(a.cfg.UsersFile, rv)
}

func (a *app) library() (*library.Client, error) {
	return library.New(a.cfg.Library, a.logger.Named("library"))
}

func (a *app) runner(lib usecases.Library) *usecases.Runner {
	return &usecases.Runner{
		Library: lib,
		Scanner: history.NewScanner(a.hub),
		Mode:    a.cfg.RunMode,
		Now:     time.Now,
		Trace:   a.hub,
		Logger:  a.logger,
		Metrics: a.metrics,
	}
}

func (a *app) executor() (*usecases.TaskExecutor, error) {
	lib, err := a.library()
	if err != nil {
		return nil, err
	}
	return &usecases.TaskExecutor{
		Runner:  a.runner(lib),
		Users:   a.loadUsers,
		Locker:  a.locker,
		LockTTL: a.cfg.Redis.LockTTL,
		Now:     time.Now,
		Trace:   a.hub,
	}, nil
}
