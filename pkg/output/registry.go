package output

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/config"
)

// Factory builds a sink from its raw config block.
type Factory func(raw map[string]interface{}, retention int, logger *zap.Logger) (Sink, error)

var factories = map[string]Factory{
	"filesystem": func(raw map[string]interface{}, retention int, logger *zap.Logger) (Sink, error) {
		var cfg FilesystemConfig
		if err := config.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return NewFilesystem(cfg.Path, retention, logger)
	},
	"git": func(raw map[string]interface{}, retention int, logger *zap.Logger) (Sink, error) {
		var cfg GitConfig
		if err := config.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return NewGit(cfg, retention, logger)
	},
	"s3": func(raw map[string]interface{}, retention int, logger *zap.Logger) (Sink, error) {
		var cfg S3Config
		if err := config.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return NewS3(cfg, retention, logger)
	},
}

// Types lists the registered sink types.
func Types() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the sink named typ.
func New(typ string, raw map[string]interface{}, retention int, logger *zap.Logger) (Sink, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown output type %q", typ)
	}
	s, err := f(raw, retention, logger)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", typ, err)
	}
	return s, nil
}

// FromConfig builds every configured sink, in order.
func FromConfig(plugins []config.Plugin, logger *zap.Logger) ([]Sink, error) {
	sinks := make([]Sink, 0, len(plugins))
	for _, p := range plugins {
		s, err := New(p.Type, p.Config, p.Retention, logger.With(zap.String("sink", p.Type)))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
