package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transport names accepted in Device.Transport.
const (
	TransportSSH    = "ssh"
	TransportTelnet = "telnet"
)

// Device is one entry of the inventory for a run.
type Device struct {
	Name         string        `json:"name" yaml:"name" mapstructure:"name"`
	Host         string        `json:"host" yaml:"host" mapstructure:"host"`
	DeviceType   string        `json:"device_type" yaml:"device_type" mapstructure:"device_type"`
	Username     string        `json:"-" yaml:"username" mapstructure:"username"`
	Password     string        `json:"-" yaml:"password" mapstructure:"password"`
	EnableSecret string        `json:"-" yaml:"enable_secret" mapstructure:"enable_secret"`
	Port         int           `json:"port,omitempty" yaml:"port" mapstructure:"port"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout" mapstructure:"timeout"`
	Transport    string        `json:"transport,omitempty" yaml:"transport" mapstructure:"transport"`

	// Source names the input provider that produced the device.
	Source string `json:"source,omitempty" yaml:"-" mapstructure:"-"`
}

var (
	ErrMissingName       = errors.New("missing name")
	ErrMissingHost       = errors.New("missing host")
	ErrMissingDeviceType = errors.New("missing device_type")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidTransport  = errors.New("invalid transport")
)

// Validate checks the fields every device record must carry.
func (d *Device) Validate() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return ErrMissingName
	case strings.ContainsAny(d.Name, `/\`) || d.Name == "." || d.Name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, d.Name)
	case strings.TrimSpace(d.Host) == "":
		return ErrMissingHost
	case strings.TrimSpace(d.DeviceType) == "":
		return ErrMissingDeviceType
	}
	switch d.Transport {
	case "", TransportSSH, TransportTelnet:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, d.Transport)
	}
	return nil
}

// Address returns host:port, using def when no port override is set.
func (d *Device) Address(def int) string {
	port := d.Port
	if port == 0 {
		port = def
	}
	host := d.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, port)
}
