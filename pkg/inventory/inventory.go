// Package inventory produces the device list of a run from the
// configured sources.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/config"
	"github.com/bizflycloud/edna/pkg/models"
)

// Rejected is a source record that could not be turned into a device.
type Rejected struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Batch is the result of listing a source. Valid records are kept even
// when others are rejected.
type Batch struct {
	Devices  []models.Device
	Rejected []Rejected
}

// Provider lists devices. Errors wrap models.ErrSourceUnavailable when the
// source cannot be read and models.ErrSourceMalformed when it cannot be
// parsed at all.
type Provider interface {
	Name() string
	ListDevices(ctx context.Context) (*Batch, error)
}

// Credentials are the login settings applied to records that carry none.
type Credentials struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	EnableSecret string `mapstructure:"enable_secret"`
}

func (c Credentials) apply(d *models.Device) {
	if d.Username == "" {
		d.Username = c.Username
	}
	if d.Password == "" {
		d.Password = c.Password
	}
	if d.EnableSecret == "" {
		d.EnableSecret = c.EnableSecret
	}
}

// add validates d and appends it to the batch or to its rejects.
func (b *Batch) add(source string, index int, d models.Device) {
	d.Source = source
	if err := d.Validate(); err != nil {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", source, index+1)
		}
		b.reject(source, name, err.Error())
		return
	}
	b.Devices = append(b.Devices, d)
}

func (b *Batch) reject(source, name, reason string) {
	b.Rejected = append(b.Rejected, Rejected{Name: name, Source: source, Reason: reason})
}

// Multi merges several providers. A failing provider fails the whole
// listing. When two sources yield the same device name the first wins and
// the later record is rejected.
type Multi struct {
	providers []Provider
	logger    *zap.Logger
}

var _ Provider = (*Multi)(nil)

func NewMulti(logger *zap.Logger, providers ...Provider) *Multi {
	return &Multi{providers: providers, logger: logger}
}

func (m *Multi) Name() string {
	return "multi"
}

// ListDevices implements Provider.
func (m *Multi) ListDevices(ctx context.Context) (*Batch, error) {
	out := &Batch{}
	seen := make(map[string]string)
	for _, p := range m.providers {
		b, err := p.ListDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p.Name(), err)
		}
		for _, d := range b.Devices {
			if src, dup := seen[d.Name]; dup {
				out.reject(p.Name(), d.Name, fmt.Sprintf("duplicate device name, already provided by %s", src))
				continue
			}
			seen[d.Name] = p.Name()
			out.Devices = append(out.Devices, d)
		}
		out.Rejected = append(out.Rejected, b.Rejected...)
		m.logger.Debug("Listed input", zap.String("input", p.Name()), zap.Int("devices", len(b.Devices)), zap.Int("rejected", len(b.Rejected)))
	}
	sort.Slice(out.Devices, func(i, j int) bool { return out.Devices[i].Name < out.Devices[j].Name })
	return out, nil
}

// Factory builds a provider from its raw config block.
type Factory func(raw map[string]interface{}, logger *zap.Logger) (Provider, error)

var factories = map[string]Factory{
	"static": func(raw map[string]interface{}, logger *zap.Logger) (Provider, error) {
		var cfg StaticConfig
		if err := config.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return NewStatic(cfg), nil
	},
	"csv": func(raw map[string]interface{}, logger *zap.Logger) (Provider, error) {
		var cfg CSVConfig
		if err := config.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return NewCSV(cfg)
	},
	"netbox": func(raw map[string]interface{}, logger *zap.Logger) (Provider, error) {
		var cfg NetboxConfig
		if err := config.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return NewNetbox(cfg, logger)
	},
}

// New builds the provider named typ.
func New(typ string, raw map[string]interface{}, logger *zap.Logger) (Provider, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown input type %q", typ)
	}
	p, err := f(raw, logger)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", typ, err)
	}
	return p, nil
}

// FromConfig builds every configured provider behind a Multi.
func FromConfig(plugins []config.Plugin, logger *zap.Logger) (*Multi, error) {
	providers := make([]Provider, 0, len(plugins))
	for _, p := range plugins {
		pr, err := New(p.Type, p.Config, logger.With(zap.String("input", p.Type)))
		if err != nil {
			return nil, err
		}
		providers = append(providers, pr)
	}
	return NewMulti(logger, providers...), nil
}
