package inventory

import (
	"context"
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"

	"github.com/bizflycloud/edna/pkg/models"
)

// StaticConfig lists devices inline or in a YAML file.
type StaticConfig struct {
	Devices  []models.Device `mapstructure:"devices"`
	File     string          `mapstructure:"file"`
	Defaults Credentials     `mapstructure:"defaults"`
}

// Static serves a fixed device list.
type Static struct {
	cfg StaticConfig
}

var _ Provider = (*Static)(nil)

func NewStatic(cfg StaticConfig) *Static {
	return &Static{cfg: cfg}
}

func (s *Static) Name() string {
	return "static"
}

// ListDevices implements Provider. The file is read on every call so
// edits apply to the next run.
func (s *Static) ListDevices(ctx context.Context) (*Batch, error) {
	devices := append([]models.Device(nil), s.cfg.Devices...)
	if s.cfg.File != "" {
		buf, err := ioutil.ReadFile(s.cfg.File)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
		var fromFile []models.Device
		if err := yaml.Unmarshal(buf, &fromFile); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrSourceMalformed, s.cfg.File, err)
		}
		devices = append(devices, fromFile...)
	}

	b := &Batch{}
	for i, d := range devices {
		s.cfg.Defaults.apply(&d)
		b.add(s.Name(), i, d)
	}
	return b, nil
}
