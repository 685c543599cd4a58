package app

import (
	"context"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Paulofn1/green-connect-hub/config"
	"github.com/Paulofn1/green-connect-hub/internal/adminapi"
	"github.com/Paulofn1/green-connect-hub/internal/gateway"
	"github.com/Paulofn1/green-connect-hub/internal/reconciler"
	"github.com/Paulofn1/green-connect-hub/internal/transport"
	"github.com/Paulofn1/green-connect-hub/internal/webserver"
	"github.com/Paulofn1/green-connect-hub/internal/whatsapp"
)

type Application struct {
	appConfig *config.AppConfig
	sched     *cron.Cron
	channel   *transport.Manager
	gateway   *gateway.Client
	state     *reconciler.Reconciler
	session   *whatsapp.Service
}

// Ensure Application implements all interfaces
var (
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ SessionProvider   = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Session returns the session sync service
func (a *Application) Session() *whatsapp.Service {
	return a.session
}

func (a *Application) Init(cfg *config.AppConfig) error {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	logger, err := newLogger(cfg.Logger)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	a.channel = transport.NewManager(transport.Options{
		URL:         cfg.Api.SocketURL(),
		MaxAttempts: cfg.Socket.MaxReconnectAttempts,
		Backoff: transport.Backoff{
			Initial:    cfg.Socket.ReconnectDelay,
			Max:        cfg.Socket.ReconnectDelayMax,
			Multiplier: cfg.Socket.ReconnectMultiplier,
		},
		DialTimeout: cfg.Socket.DialTimeout,
		WriteWait:   cfg.Socket.WriteWait,
	}, transport.WebsocketDialer{})

	a.gateway = gateway.New(gateway.Config{
		BaseURL: cfg.Api.BaseURL,
		Timeout: cfg.Api.Timeout,
		Token:   cfg.Api.Token,
	})

	a.state, err = reconciler.New(reconciler.WithLogCapacity(cfg.Sync.LogCapacity))
	if err != nil {
		return err
	}

	a.session, err = whatsapp.New(a.channel, a.gateway, a.state, whatsapp.Options{Workers: cfg.Sync.Workers})
	if err != nil {
		return err
	}

	webserver.Init(cfg)
	adminapi.Init()

	zap.L().Info("app: initialized",
		zap.String("api", cfg.Api.BaseURL),
		zap.String("socket", cfg.Api.SocketURL()),
		zap.Duration("timeout", cfg.Api.Timeout))

	return a.initJob()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	if !cfg.FileEnable {
		logger, err := zapConfig.Build(zap.AddCaller())
		if err != nil {
			return nil, errors.Wrap(err, "app: build logger")
		}
		return logger, nil
	}

	lumberJackLogger := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    64,
		MaxBackups: 7,
		MaxAge:     7,
		Compress:   false,
	}
	core := zapcore.NewTee(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(lumberJackLogger),
			zapConfig.Level,
		),
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(os.Stdout),
			zapConfig.Level,
		),
	)
	return zap.New(core, zap.AddCaller()), nil
}

// Run starts the session service and the local API and blocks until ctx
// is done or either fails.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.session.Run(gctx)
	})
	g.Go(func() error {
		return webserver.Listen(gctx)
	})
	a.sched.Start()
	return g.Wait()
}

// Resync refreshes every account from the backend.
func (a *Application) Resync(ctx context.Context) error {
	return a.session.Resync(ctx)
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.session != nil {
		a.session.Stop()
	}
	if a.channel != nil {
		a.channel.Close()
	}
	_ = zap.L().Sync()
}
