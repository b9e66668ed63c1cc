package inventory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bizflycloud/edna/pkg/models"
)

var requiredColumns = []string{"name", "host", "device_type"}

// CSVConfig configures the CSV provider.
type CSVConfig struct {
	Path      string      `mapstructure:"path"`
	Delimiter string      `mapstructure:"delimiter"`
	Defaults  Credentials `mapstructure:"defaults"`
}

// CSV reads devices from a file with a header row. Columns name, host and
// device_type are required; username, password, enable_secret, port,
// timeout and transport are optional.
type CSV struct {
	cfg   CSVConfig
	comma rune
}

var _ Provider = (*CSV)(nil)

func NewCSV(cfg CSVConfig) (*CSV, error) {
	if cfg.Path == "" {
		return nil, errors.New("path is required")
	}
	comma := ','
	if cfg.Delimiter != "" {
		r := []rune(cfg.Delimiter)
		if len(r) != 1 {
			return nil, fmt.Errorf("delimiter must be one character, got %q", cfg.Delimiter)
		}
		comma = r[0]
	}
	return &CSV{cfg: cfg, comma: comma}, nil
}

func (c *CSV) Name() string {
	return "csv"
}

// ListDevices implements Provider.
func (c *CSV) ListDevices(ctx context.Context) (*Batch, error) {
	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = c.comma
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", models.ErrSourceMalformed, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", models.ErrSourceMalformed, name)
		}
	}

	b := &Batch{}
	for row := 0; ; row++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				b.reject(c.Name(), fmt.Sprintf("csv#%d", perr.Line), err.Error())
				continue
			}
			return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		d := models.Device{
			Name:         get("name"),
			Host:         get("host"),
			DeviceType:   get("device_type"),
			Username:     get("username"),
			Password:     get("password"),
			EnableSecret: get("enable_secret"),
			Transport:    strings.ToLower(get("transport")),
		}
		if err := parseOverrides(&d, get("port"), get("timeout")); err != nil {
			name := d.Name
			if name == "" {
				name = fmt.Sprintf("%s#%d", c.Name(), row+1)
			}
			b.reject(c.Name(), name, err.Error())
			continue
		}
		c.cfg.Defaults.apply(&d)
		b.add(c.Name(), row, d)
	}
	return b, nil
}

func parseOverrides(d *models.Device, port, timeout string) error {
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
		d.Port = p
	}
	if timeout != "" {
		t, err := time.ParseDuration(timeout)
		if err != nil {
			secs, serr := strconv.Atoi(timeout)
			if serr != nil {
				return fmt.Errorf("invalid timeout %q", timeout)
			}
			t = time.Duration(secs) * time.Second
		}
		d.Timeout = t
	}
	return nil
}
