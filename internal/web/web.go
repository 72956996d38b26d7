package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modfin/henry/compare"
	"github.com/modfin/utskick/internal/engine"
	"github.com/modfin/utskick/internal/metrics"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Logger *logrus.Logger

	Interface string
	Port      int
}

func New(cfg Config, eng *engine.Engine, m *metrics.Metrics) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		config:  cfg,
		log:     logger,
		engine:  eng,
		metrics: m,
	}
}

type Server struct {
	config  Config
	log     *logrus.Logger
	engine  *engine.Engine
	metrics *metrics.Metrics
	srv     *http.Server
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log}))
	mux.Use(middleware.Heartbeat("/ping"))
	if s.metrics != nil {
		mux.Use(s.metrics.Middleware())
		mux.Get("/metrics", s.metrics.HttpMetrics())
	}

	mux.Post("/send-bulk-emails", sendBulk(s))
	mux.Get("/runs/{id}", getRun(s))
	mux.Post("/send-email", sendEmail(s))

	return mux
}

func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Interface, compare.Coalesce(s.config.Port, 8080)),
		Handler: s.Router(),
	}
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("starting webserver")
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Fatal("webserver died")
		}
	}()
}
