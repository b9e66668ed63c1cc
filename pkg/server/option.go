package server

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/broker"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithBroker returns an Option which set the server broker for async messaging.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) error {
		s.b = b
		return nil
	}
}

// WithSubscribeTopics returns an Option which set the topics that server broker will subscribe to.
func WithSubscribeTopics(topics ...string) Option {
	return func(s *Server) error {
		s.subscribeTopics = topics
		return nil
	}
}

// WithPublishTopic returns an Option which set the topic run reports are published on.
func WithPublishTopic(topic string) Option {
	return func(s *Server) error {
		s.publishTopic = topic
		return nil
	}
}

// WithCORSOrigins sets the origins allowed to call the API from a browser.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) error {
		s.corsOrigins = origins
		return nil
	}
}

func WithOrchestrator(o Orchestrator) Option {
	return func(s *Server) error {
		s.orchestrator = o
		return nil
	}
}

func WithScheduler(sch Scheduler) Option {
	return func(s *Server) error {
		s.scheduler = sch
		return nil
	}
}

func WithCatalog(c Catalog) Option {
	return func(s *Server) error {
		s.catalog = c
		return nil
	}
}

func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) error {
		s.auth = a
		return nil
	}
}

// WithRunHistory enables /api/backup/runs from stored reports.
func WithRunHistory(h RunHistory) Option {
	return func(s *Server) error {
		s.runs = h
		return nil
	}
}

// WithConfigInfo sets the configuration summary of /api/status.
func WithConfigInfo(info ConfigInfo) Option {
	return func(s *Server) error {
		s.info = info
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
