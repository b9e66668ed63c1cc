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
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/auth"
	"github.com/bizflycloud/edna/pkg/backup"
	"github.com/bizflycloud/edna/pkg/catalog"
	"github.com/bizflycloud/edna/pkg/config"
	"github.com/bizflycloud/edna/pkg/devicemodel"
	"github.com/bizflycloud/edna/pkg/executor"
	"github.com/bizflycloud/edna/pkg/inventory"
	"github.com/bizflycloud/edna/pkg/output"
	"github.com/bizflycloud/edna/pkg/progress"
	"github.com/bizflycloud/edna/pkg/store"
	"github.com/bizflycloud/edna/pkg/support"
)

// app holds the components shared by the agent and run-once.
type app struct {
	cfg          *config.Config
	store        *store.Store
	registry     *devicemodel.Registry
	sinks        []output.Sink
	orchestrator *backup.Orchestrator
	catalog      *catalog.Catalog
}

// openStore opens the state database, creating the directory of a sqlite
// file when needed.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	u, err := url.Parse(cfg.Database.URL)
	if err == nil && strings.HasPrefix(u.Scheme, "sqlite") {
		if path := u.Host + u.Path; path != "" && path != "/" {
			if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
				return nil, err
			}
		}
	}
	return store.Open(ctx, cfg.Database.URL, logger.Named("store"))
}

// applyPathDefaults points filesystem outputs without a path at the
// platform data directory.
func applyPathDefaults(cfg *config.Config) {
	paths, err := support.DefaultPaths()
	if err != nil {
		return
	}
	for i, p := range cfg.Output {
		if p.Type != "filesystem" {
			continue
		}
		if p.Config == nil {
			cfg.Output[i].Config = map[string]interface{}{}
		}
		if _, ok := cfg.Output[i].Config["path"]; !ok {
			cfg.Output[i].Config["path"] = paths.BackupDir()
		}
	}
}

func newRegistry(cfg *config.Config) (*devicemodel.Registry, error) {
	r := devicemodel.NewRegistry()
	if err := r.RegisterDefinitions(cfg.Models); err != nil {
		return nil, err
	}
	if cfg.ModelsFile != "" {
		if err := r.LoadFile(cfg.ModelsFile); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newExecutor(cfg *config.Config) (*executor.Executor, error) {
	return executor.New(
		executor.WithLogger(logger.Named("executor")),
		executor.WithTimeouts(cfg.Executor.ConnectTimeout, cfg.Executor.CommandTimeout, cfg.Executor.DeviceTimeout),
		executor.WithDefaultTransport(cfg.Executor.Transport),
		executor.WithKnownHostsFile(cfg.Executor.KnownHostsFile),
		executor.WithLegacyAlgorithms(cfg.Executor.LegacyAlgorithms),
	)
}

// newApp builds every component of a backup run. opts are appended to
// the orchestrator options.
func newApp(ctx context.Context, cfg *config.Config, opts ...backup.Option) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	applyPathDefaults(cfg)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st}

	if a.registry, err = newRegistry(cfg); err != nil {
		a.close()
		return nil, err
	}
	provider, err := inventory.FromConfig(cfg.Input, logger.Named("inventory"))
	if err != nil {
		a.close()
		return nil, err
	}
	if a.sinks, err = output.FromConfig(cfg.Output, logger.Named("output")); err != nil {
		a.close()
		return nil, err
	}
	exec, err := newExecutor(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	prog := progress.NewProgress(5 * time.Second)
	prog.OnUpdate = func(s progress.Stat, elapsed time.Duration, ticker bool) {
		logger.Debug("Backup progress", zap.Stringer("stat", s), zap.Duration("elapsed", elapsed))
	}
	opts = append([]backup.Option{
		backup.WithLogger(logger.Named("backup")),
		backup.WithMaxWorkers(cfg.Scheduler.MaxWorkers),
		backup.WithStore(st, cfg.Database.StaleAfter),
		backup.WithProgress(prog),
	}, opts...)
	if a.orchestrator, err = backup.New(provider, a.registry, exec, a.sinks, opts...); err != nil {
		a.close()
		return nil, err
	}
	a.catalog = catalog.New(a.sinks[0], st)
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close state database", zap.Error(err))
		}
	}
}

// newAuthenticator builds the authenticator and creates the bootstrap
// admin on an empty user table.
func newAuthenticator(ctx context.Context, cfg *config.Config, st *store.Store) (*auth.Authenticator, error) {
	a, err := auth.New(st, cfg.Auth.JWT.SecretKey, time.Duration(cfg.Auth.JWT.ExpireMinutes)*time.Minute, logger.Named("auth"))
	if err != nil {
		return nil, err
	}
	created, err := a.EnsureAdmin(ctx, cfg.Auth.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("Created bootstrap admin user")
	}
	return a, nil
}

var errRunFailed = errors.New("backup run failed")
