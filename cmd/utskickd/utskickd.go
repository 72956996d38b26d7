package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modfin/henry/compare"
	"github.com/modfin/utskick/internal/config"
	"github.com/modfin/utskick/internal/dao"
	"github.com/modfin/utskick/internal/engine"
	"github.com/modfin/utskick/internal/metrics"
	"github.com/modfin/utskick/internal/notify"
	"github.com/modfin/utskick/internal/profile"
	"github.com/modfin/utskick/internal/web"
	"github.com/modfin/utskick/smtpx"
	"github.com/modfin/utskick/smtpx/pool"
	"github.com/modfin/utskick/tools"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {

	app := &cli.App{
		Name:   "utskickd",
		Usage:  "a service for sending bulk emails",
		Action: start,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Action: start,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

// stopFunc adapts a plain shutdown func to Stoppable.
type stopFunc func(ctx context.Context) error

func (f stopFunc) Stop(ctx context.Context) error {
	return f(ctx)
}

func start(c *cli.Context) error {
	cfg := config.Get()

	base := log.New()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	base.SetLevel(level)
	base.AddHook(tools.LoggerWho{Name: "utskickd"})
	lc := tools.LoggerCloner(base)

	base.Info("starting server")

	profiles, err := profile.Load(cfg.ProfilesPath)
	if err != nil {
		return err
	}
	base.WithField("profiles", profiles.Len()).Info("loaded sender profiles")

	var services []Stoppable

	bootCtx, cancelBoot := context.WithTimeout(c.Context, 30*time.Second)
	defer cancelBoot()

	mongoRetention := cfg.LedgerRetention
	if cfg.LedgerBackend == "sqlite" {
		mongoRetention = 0 // ledger lives in sqlite, no ttl index needed
	}
	store, err := dao.NewMongo(bootCtx, cfg.MongoURI, cfg.MongoDB, mongoRetention)
	if err != nil {
		return err
	}
	services = append(services, stopFunc(store.Close))

	var ledger dao.Ledger = store
	if cfg.LedgerBackend == "sqlite" {
		sqlite, err := dao.NewSqliteLedger(cfg.SqliteURI, cfg.LedgerRetention)
		if err != nil {
			return err
		}
		ledger = sqlite
		services = append(services, stopFunc(func(ctx context.Context) error {
			return sqlite.Close()
		}))
	}
	base.WithField("backend", cfg.LedgerBackend).Info("send ledger ready")

	m := metrics.New(metrics.Config{
		Poll:         cfg.MetricsPoll,
		PollUser:     cfg.MetricsPollUser,
		PollPassword: cfg.MetricsPollPassword,
	}, lc)

	notifier := notify.New(notify.Config{URL: cfg.WebhookURL}, lc)
	notifier.Start()
	services = append(services, notifier)

	localName := compare.Coalesce(cfg.Hostname, tools.Hostname())
	dialer := smtpx.NewDialer()
	transport := func(ctx context.Context, p profile.Profile) engine.Transport {
		return pool.New(ctx, dialer, pool.Config{
			Addr:              p.Addr(),
			LocalName:         localName,
			Auth:              p.Auth(),
			Concurrency:       cfg.SMTPConcurrency,
			MessagesPerSecond: cfg.SMTPRate,
		})
	}

	eng := engine.New(engine.Config{
		TrackingBaseURL: cfg.TrackingBaseURL,
		Exempt:          cfg.LedgerExempt,
		RetryAttempts:   cfg.RetryAttempts,
		RetryBaseDelay:  cfg.RetryBaseDelay,
		Concurrency:     cfg.Workers,
	}, store, ledger, profiles, transport, notifier, m, lc)

	server := web.New(web.Config{
		Logger:    lc.New("web"),
		Interface: cfg.APIInterface,
		Port:      cfg.APIPort,
	}, eng, m)
	server.Start()
	services = append(services, server)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	base.Infof("got signal: %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wg := &sync.WaitGroup{}
	for _, service := range services {
		wg.Add(1)
		service := service
		go func() {
			defer wg.Done()
			err := service.Stop(shutdownCtx)
			if err != nil {
				base.WithError(err).Error("failed to stop service")
			}
		}()
	}

	go func() {
		<-shutdownCtx.Done()
		base.WithError(shutdownCtx.Err()).Warn("shutdown was forced, terminating now")
		os.Exit(1)
	}()

	wg.Wait()
	base.Info("shutdown complete")
	return nil
}
