// This file is part of edna
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/backup"
	"github.com/bizflycloud/edna/pkg/broker"
	"github.com/bizflycloud/edna/pkg/broker/mqtt"
	"github.com/bizflycloud/edna/pkg/config"
	"github.com/bizflycloud/edna/pkg/models"
	"github.com/bizflycloud/edna/pkg/scheduler"
	"github.com/bizflycloud/edna/pkg/server"
)

var addr string

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the API server and the backup scheduler.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
		if addr != "" {
			cfg.API.Addr = addr
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var s *server.Server
		a, err := newApp(ctx, cfg, backup.WithReportHook(func(r *models.RunReport) {
			if s != nil {
				s.PublishReport(r)
			}
		}))
		if err != nil {
			logger.Fatal("failed to set up backup", zap.Error(err))
		}
		defer a.close()

		authenticator, err := newAuthenticator(ctx, cfg, a.store)
		if err != nil {
			logger.Fatal("failed to set up auth", zap.Error(err))
		}

		sched, err := scheduler.New(cfg.Scheduler.Cron, a.orchestrator,
			scheduler.WithLogger(logger.Named("scheduler")),
			scheduler.WithContext(ctx),
		)
		if err != nil {
			logger.Fatal("failed to create scheduler", zap.Error(err))
		}

		opts := []server.Option{
			server.WithAddr(cfg.API.Addr),
			server.WithOrchestrator(a.orchestrator),
			server.WithScheduler(sched),
			server.WithCatalog(a.catalog),
			server.WithAuthenticator(authenticator),
			server.WithRunHistory(a.store),
			server.WithCORSOrigins(cfg.API.CORSOrigins...),
			server.WithConfigInfo(server.ConfigInfo{
				Input:     cfg.InputTypes(),
				Output:    cfg.OutputTypes(),
				Retention: cfg.Retention(),
			}),
			server.WithLogger(logger.Named("server")),
		}
		if b, err := newBroker(cfg); err != nil {
			logger.Fatal("failed to create broker", zap.Error(err))
		} else if b != nil {
			opts = append(opts,
				server.WithBroker(b),
				server.WithSubscribeTopics(cfg.Broker.SubscribeTopics...),
				server.WithPublishTopic(cfg.Broker.PublishTopic),
			)
		}

		s, err = server.New(opts...)
		if err != nil {
			logger.Fatal("failed to create new server", zap.Error(err))
		}

		if cfg.Scheduler.Enabled {
			sched.Start()
		}
		defer sched.Stop()

		logger.Info("Listening address: " + cfg.API.Addr)
		if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server run failed", zap.Error(err))
		}
	},
}

// newBroker returns nil when no broker is configured.
func newBroker(cfg *config.Config) (broker.Broker, error) {
	if cfg.Broker.URL == "" {
		return nil, nil
	}
	topics := cfg.Broker.SubscribeTopics
	if len(topics) == 0 {
		topics = []string{"edna/agent"}
		cfg.Broker.SubscribeTopics = topics
	}
	b, err := mqtt.NewBroker(
		mqtt.WithURL(cfg.Broker.URL),
		mqtt.WithClientID(cfg.Broker.ClientID),
		mqtt.WithLogger(logger.Named("broker")),
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.PersistentFlags().StringVar(&addr, "addr", "", "listening address of server, host:port or unix:///path (default api.addr)")
}
