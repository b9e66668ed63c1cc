// Package server is the HTTP API of the agent.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/valve"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/auth"
	"github.com/bizflycloud/edna/pkg/backup"
	"github.com/bizflycloud/edna/pkg/broker"
	"github.com/bizflycloud/edna/pkg/catalog"
	"github.com/bizflycloud/edna/pkg/models"
	"github.com/bizflycloud/edna/pkg/progress"
	"github.com/bizflycloud/edna/pkg/scheduler"
)

const shutdownTimeout = 20 * time.Second

// Orchestrator runs backups.
type Orchestrator interface {
	RunOnce(ctx context.Context, opts backup.RunOptions) (*models.RunReport, error)
	Start(ctx context.Context, opts backup.RunOptions) (string, error)
	IsRunning() bool
	LastReport() *models.RunReport
	Progress() *progress.Progress
}

// Scheduler controls scheduled runs.
type Scheduler interface {
	Start()
	Stop()
	Status() scheduler.Status
}

// Catalog reads persisted backups.
type Catalog interface {
	List(ctx context.Context, device string) ([]catalog.Entry, error)
	Get(ctx context.Context, device, id string) ([]byte, error)
	Latest(ctx context.Context, device string) (catalog.Entry, []byte, error)
	Devices(ctx context.Context) ([]catalog.Device, error)
}

// Authenticator checks credentials and tokens.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*auth.Token, error)
	Verify(token string) (*auth.Claims, error)
	Logout(c *auth.Claims)
}

// RunHistory reads stored reports.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error)
	LastRun(ctx context.Context) (*models.RunReport, error)
}

// ConfigInfo is the configuration summary shown by /api/status.
type ConfigInfo struct {
	Input     []string
	Output    []string
	Retention int
}

// Server defines parameters for running the EDNA HTTP server.
type Server struct {
	Addr            string
	router          *chi.Mux
	b               broker.Broker
	subscribeTopics []string
	publishTopic    string
	useUnixSock     bool
	corsOrigins     []string

	orchestrator Orchestrator
	scheduler    Scheduler
	catalog      Catalog
	auth         Authenticator
	runs         RunHistory
	info         ConfigInfo

	// runCtx outlives requests; async and broker triggered runs use it.
	runCtx context.Context

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{runCtx: context.Background()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.orchestrator == nil || s.catalog == nil || s.auth == nil {
		return nil, errors.New("server: orchestrator, catalog and authenticator are required")
	}

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}

	s.router = chi.NewRouter()
	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Get("/", s.Root)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.Login)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticated)

			r.Get("/auth/me", s.Me)
			r.Post("/auth/logout", s.Logout)
			r.Get("/status", s.Status)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.ListDevices)
				r.Get("/{name}/backups", s.ListBackups)
				r.Get("/{name}/backups/{id}", s.GetBackup)
				r.Get("/{name}/last_backup", s.LastBackup)
			})

			r.Route("/backup", func(r chi.Router) {
				r.Post("/run", s.RunBackup)
				r.Get("/runs", s.ListRuns)
				r.Get("/last", s.LastRun)
			})

			r.Route("/scheduler", func(r chi.Router) {
				r.Get("/status", s.SchedulerStatus)
				r.Post("/start", s.StartScheduler)
				r.Post("/stop", s.StopScheduler)
			})
		})
	})
}

func (s *Server) handleBrokerEvent(e broker.Event) error {
	msg, err := broker.ParseMessage(e.Payload)
	if err != nil {
		return err
	}
	s.logger.Debug("Got broker event", zap.String("event_type", msg.EventType), zap.String("topic", e.Topic))
	switch msg.EventType {
	case broker.BackupManual:
		id, err := s.orchestrator.Start(s.runCtx, backup.RunOptions{Trigger: backup.TriggerBroker, Device: msg.DeviceName})
		if err != nil {
			return err
		}
		s.logger.Info("Started backup run from broker", zap.String("run_id", id))
	case broker.SchedulerStart:
		if s.scheduler == nil {
			return errors.New("scheduler is not configured")
		}
		s.scheduler.Start()
	case broker.SchedulerStop:
		if s.scheduler == nil {
			return errors.New("scheduler is not configured")
		}
		s.scheduler.Stop()
	default:
		return fmt.Errorf("event %s: %w", msg.EventType, broker.ErrUnknownEventType)
	}
	return nil
}

// PublishReport sends the summary of a finished run on the publish topic.
func (s *Server) PublishReport(r *models.RunReport) {
	if s.b == nil || s.publishTopic == "" {
		return
	}
	payload, err := broker.NewRunNotification(r)
	if err != nil {
		s.logger.Warn("Failed to encode run notification", zap.Error(err))
		return
	}
	if err := s.b.Publish(s.publishTopic, payload); err != nil {
		s.logger.Warn("Failed to publish run notification", zap.Error(err), zap.String("topic", s.publishTopic))
	}
}

// subscribe connects to the broker, retrying with backoff until it
// succeeds or ctx is done.
func (s *Server) subscribe(ctx context.Context) {
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Jitter: true}
	for {
		err := s.b.ConnectAndSubscribe(s.handleBrokerEvent, s.subscribeTopics)
		if err == nil {
			s.logger.Info("Subscribed to broker", zap.Strings("topics", s.subscribeTopics))
			return
		}
		d := b.Duration()
		s.logger.Error("Connect to broker failed", zap.Error(err), zap.Duration("retry_in", d))
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()
	s.runCtx = baseCtx

	if s.b != nil && len(s.subscribeTopics) > 0 {
		go s.subscribe(baseCtx)
	}

	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c
		s.logger.Info("shutting down...")

		if err := valv.Shutdown(shutdownTimeout); err != nil {
			s.logger.Error("failed to shutdown valv", zap.Error(err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown http server", zap.Error(err))
		}
		if s.b != nil {
			_ = s.b.Disconnect()
		}
	}()

	if s.useUnixSock {
		_ = os.Remove(s.Addr)
		unixListener, err := net.Listen("unix", s.Addr)
		if err != nil {
			return err
		}
		return srv.Serve(unixListener)
	}

	srv.Addr = s.Addr
	return srv.ListenAndServe()
}
