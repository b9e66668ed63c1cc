// Package devicemodel holds the per-vendor command sets used to pull
// configuration from network devices.
package devicemodel

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bizflycloud/edna/pkg/models"
)

// Model is the capability every vendor implements.
type Model interface {
	// Commands returns the commands issued, in order, over one CLI session.
	Commands() []string

	// ProcessConfig transforms the concatenated session output before it
	// reaches an output sink. It must not alter configuration content and
	// must be idempotent.
	ProcessConfig(raw string) string
}

// Interactive is implemented by models that know how to drive their CLI.
// The executor falls back to DefaultDialect for models that do not.
type Interactive interface {
	Dialect() Dialect
}

// Dialect describes the prompt handling of a vendor CLI.
type Dialect struct {
	// Prompt matches a line holding the CLI prompt. It is used until the
	// session knows the exact prompt of the device.
	Prompt *regexp.Regexp
	// PrivilegedPrompt matches the prompt once enable mode is active.
	// Nil means the vendor has no separate privileged mode.
	PrivilegedPrompt *regexp.Regexp
	EnableCommand    string
	// Setup commands run before Commands, their output is discarded.
	Setup []string
	// Exit is sent when the session closes.
	Exit string
}

// DefaultDialect suits most Cisco-like CLIs.
var DefaultDialect = Dialect{
	Prompt:           regexp.MustCompile(`(?m)^[\w.\-@()/:~]+ ?[>#$%][ \t]*$`),
	PrivilegedPrompt: regexp.MustCompile(`(?m)^[\w.\-@()/:~]+ ?#[ \t]*$`),
	EnableCommand:    "enable",
	Exit:             "exit",
}

// DialectOf returns the dialect of m, or DefaultDialect.
func DialectOf(m Model) Dialect {
	if im, ok := m.(Interactive); ok {
		return im.Dialect()
	}
	return DefaultDialect
}

// Registry resolves device types to models by exact name.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry returns a registry loaded with the built-in vendors.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]Model)}
	for name, m := range builtins() {
		r.models[name] = m
	}
	return r
}

// Register adds or replaces the model for name.
func (r *Registry) Register(name string, m Model) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("devicemodel: empty model name")
	}
	if m == nil {
		return fmt.Errorf("devicemodel: nil model for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
	return nil
}

// Resolve returns the model registered for deviceType.
func (r *Registry) Resolve(deviceType string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[deviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownDeviceType, deviceType)
	}
	return m, nil
}

// Names lists the registered device types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
