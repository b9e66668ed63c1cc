package executor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/scrapli/scrapligo/driver/generic"
	"github.com/scrapli/scrapligo/driver/options"
	scraplilogging "github.com/scrapli/scrapligo/logging"
	"github.com/scrapli/scrapligo/transport"
	"github.com/scrapli/scrapligo/util"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/devicemodel"
	"github.com/bizflycloud/edna/pkg/models"
)

var defaultPorts = map[string]int{
	models.TransportSSH:    22,
	models.TransportTelnet: 23,
}

var transportTypes = map[string]string{
	models.TransportSSH:    transport.StandardTransport,
	models.TransportTelnet: transport.TelnetTransport,
}

// Extra algorithms offered to older network gear on top of the defaults.
var (
	legacyKeyExchanges = []string{"diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1", "diffie-hellman-group-exchange-sha1"}
	legacyCiphers      = []string{"aes128-cbc", "aes256-cbc", "3des-cbc"}
)

// driverOptions maps a device and its dialect onto scrapligo options.
func (e *Executor) driverOptions(device *models.Device, transportName string, dialect devicemodel.Dialect, cfg timeouts) []util.Option {
	port := device.Port
	if port == 0 {
		port = defaultPorts[transportName]
	}
	opts := []util.Option{
		options.WithAuthUsername(device.Username),
		options.WithAuthPassword(device.Password),
		options.WithPort(port),
		options.WithTransportType(transportTypes[transportName]),
		options.WithTimeoutSocket(cfg.connect),
		options.WithTimeoutOps(cfg.command),
		options.WithPromptPattern(dialect.Prompt),
	}
	if transportName == models.TransportSSH {
		if e.knownHostsFile != "" {
			opts = append(opts, options.WithSSHKnownHostsFile(e.knownHostsFile))
		} else {
			opts = append(opts, options.WithAuthNoStrictKey())
		}
		if e.legacyAlgorithms {
			opts = append(opts,
				options.WithStandardTransportExtraKexs(legacyKeyExchanges),
				options.WithStandardTransportExtraCiphers(legacyCiphers),
			)
		}
	}
	if dialect.Exit != "" {
		exit := dialect.Exit
		opts = append(opts, options.WithOnClose(func(d *generic.Driver) error {
			if err := d.Channel.Write([]byte(exit), false); err != nil {
				return err
			}
			return d.Channel.WriteReturn()
		}))
	}
	if e.channelLog != nil {
		opts = append(opts, options.WithLogger(e.channelLog))
	}
	return opts
}

// newChannelLog forwards scrapligo debug output to logger.
func newChannelLog(logger *zap.Logger) (*scraplilogging.Instance, error) {
	sugar := logger.Sugar()
	return scraplilogging.NewInstance(
		scraplilogging.WithLevel("debug"),
		scraplilogging.WithLogger(func(args ...interface{}) {
			sugar.Debug(args...)
		}),
	)
}

// exactPrompt matches prompt alone on its line. Once the device has shown
// its prompt, nothing else in command output can be taken for it.
func exactPrompt(prompt string) (*regexp.Regexp, error) {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return nil, fmt.Errorf("%w: empty prompt", models.ErrConnectTimeout)
	}
	return regexp.Compile(`(?m)^` + regexp.QuoteMeta(p) + `[ \t]*$`)
}
