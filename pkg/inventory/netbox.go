package inventory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
)

const (
	defaultModelField = "oxidized_model"
	netboxPageSize    = 1000
)

// NetboxConfig configures the NetBox provider.
type NetboxConfig struct {
	URL                string                 `mapstructure:"url"`
	Token              string                 `mapstructure:"token"`
	FilterStatus       []string               `mapstructure:"filter_status"`
	FilterTags         []string               `mapstructure:"filter_tags"`
	CustomFieldFilter  map[string]interface{} `mapstructure:"custom_field_filter"`
	ModelCustomField   string                 `mapstructure:"model_custom_field"`
	Groups             map[string]Credentials `mapstructure:"groups"`
	DefaultUsername    string                 `mapstructure:"default_username"`
	DefaultPassword    string                 `mapstructure:"default_password"`
	DefaultEnable      string                 `mapstructure:"default_enable_secret"`
	Port               int                    `mapstructure:"port"`
	Timeout            time.Duration          `mapstructure:"timeout"`
	InsecureSkipVerify bool                   `mapstructure:"insecure_skip_verify"`
}

type netboxRef struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type netboxIP struct {
	Address string `json:"address"`
}

type netboxDevice struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	DeviceType struct {
		Model        string    `json:"model"`
		Manufacturer netboxRef `json:"manufacturer"`
	} `json:"device_type"`
	PrimaryIP4   *netboxIP              `json:"primary_ip4"`
	PrimaryIP6   *netboxIP              `json:"primary_ip6"`
	Tags         []netboxRef            `json:"tags"`
	CustomFields map[string]interface{} `json:"custom_fields"`
}

type netboxPage struct {
	Count   int            `json:"count"`
	Next    *string        `json:"next"`
	Results []netboxDevice `json:"results"`
}

// Netbox lists devices from the NetBox DCIM API.
type Netbox struct {
	cfg    NetboxConfig
	client *retryablehttp.Client
	logger *zap.Logger
}

var _ Provider = (*Netbox)(nil)

func NewNetbox(cfg NetboxConfig, logger *zap.Logger) (*Netbox, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("url and token are required")
	}
	if len(cfg.FilterStatus) == 0 {
		cfg.FilterStatus = []string{"active"}
	}
	if cfg.ModelCustomField == "" {
		cfg.ModelCustomField = defaultModelField
	}
	if cfg.DefaultUsername == "" {
		cfg.DefaultUsername = "admin"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = leveledLogger{logger.Sugar()}
	client.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSHandshakeTimeout: 10 * time.Second,
			//nolint:gosec
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
	}
	return &Netbox{cfg: cfg, client: client, logger: logger}, nil
}

func (n *Netbox) Name() string {
	return "netbox"
}

func (n *Netbox) firstPage() string {
	q := url.Values{}
	for _, s := range n.cfg.FilterStatus {
		q.Add("status", s)
	}
	q.Set("limit", fmt.Sprint(netboxPageSize))
	return strings.TrimRight(n.cfg.URL, "/") + "/api/dcim/devices/?" + q.Encode()
}

// ListDevices implements Provider. It follows the "next" links until the
// last page.
func (n *Netbox) ListDevices(ctx context.Context) (*Batch, error) {
	b := &Batch{}
	index := 0
	for next := n.firstPage(); next != ""; {
		page, err := n.fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		for i := range page.Results {
			n.convert(b, index, &page.Results[i])
			index++
		}
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	n.logger.Info("Retrieved devices from NetBox", zap.Int("devices", len(b.Devices)), zap.Int("rejected", len(b.Rejected)))
	return b, nil
}

func (n *Netbox) fetch(ctx context.Context, u string) (*netboxPage, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req.Header.Set("Authorization", "Token "+n.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", models.ErrSourceUnavailable, resp.StatusCode)
	}
	var page netboxPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode devices: %v", models.ErrSourceMalformed, err)
	}
	return &page, nil
}

func (n *Netbox) convert(b *Batch, index int, nd *netboxDevice) {
	if !n.selected(nd) {
		n.logger.Debug("Device filtered out", zap.String("device", nd.Name))
		return
	}

	d := models.Device{
		Name: nd.Name,
		Port: n.cfg.Port,
	}
	if d.Name == "" {
		d.Name = fmt.Sprintf("netbox-%d", nd.ID)
	}
	d.Host = primaryIP(nd)
	if v, ok := nd.CustomFields[n.cfg.ModelCustomField]; ok && v != nil {
		d.DeviceType = fmt.Sprint(v)
	}

	creds := Credentials{
		Username:     n.cfg.DefaultUsername,
		Password:     n.cfg.DefaultPassword,
		EnableSecret: n.cfg.DefaultEnable,
	}
	if g, ok := n.cfg.Groups[nd.DeviceType.Manufacturer.Slug]; ok {
		g.apply(&d)
	}
	creds.apply(&d)

	switch {
	case d.Host == "":
		b.reject(n.Name(), d.Name, "no primary IP")
	case d.DeviceType == "":
		b.reject(n.Name(), d.Name, fmt.Sprintf("custom field %s is empty", n.cfg.ModelCustomField))
	default:
		b.add(n.Name(), index, d)
	}
}

// selected applies the tag and custom field filters.
func (n *Netbox) selected(nd *netboxDevice) bool {
	if len(n.cfg.FilterTags) > 0 {
		found := false
		for _, want := range n.cfg.FilterTags {
			for _, tag := range nd.Tags {
				if tag.Name == want || tag.Slug == want {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	for field, want := range n.cfg.CustomFieldFilter {
		got, ok := nd.CustomFields[field]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func primaryIP(nd *netboxDevice) string {
	for _, ip := range []*netboxIP{nd.PrimaryIP4, nd.PrimaryIP6} {
		if ip == nil || ip.Address == "" {
			continue
		}
		addr, _, err := net.ParseCIDR(ip.Address)
		if err != nil {
			addr = net.ParseIP(ip.Address)
		}
		if addr != nil {
			return addr.String()
		}
	}
	return ""
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
