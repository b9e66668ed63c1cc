package devicemodel

import (
	"fmt"
	"io/ioutil"
	"regexp"

	"gopkg.in/yaml.v2"
)

// Definition describes a model declared in configuration.
type Definition struct {
	Name             string   `mapstructure:"name" yaml:"name"`
	Commands         []string `mapstructure:"commands" yaml:"commands"`
	Setup            []string `mapstructure:"setup" yaml:"setup"`
	Prompt           string   `mapstructure:"prompt" yaml:"prompt"`
	PrivilegedPrompt string   `mapstructure:"privileged_prompt" yaml:"privileged_prompt"`
	EnableCommand    string   `mapstructure:"enable_command" yaml:"enable_command"`
	Exit             string   `mapstructure:"exit" yaml:"exit"`
	// Raw disables line ending normalization.
	Raw bool `mapstructure:"raw" yaml:"raw"`
}

// Build turns d into a Vendor.
func (d Definition) Build() (*Vendor, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("devicemodel: definition without name")
	}
	if len(d.Commands) == 0 {
		return nil, fmt.Errorf("devicemodel: %s: no commands", d.Name)
	}
	cli := DefaultDialect
	cli.Setup = d.Setup
	if d.Prompt != "" {
		re, err := regexp.Compile(d.Prompt)
		if err != nil {
			return nil, fmt.Errorf("devicemodel: %s: prompt: %w", d.Name, err)
		}
		cli.Prompt = re
		cli.PrivilegedPrompt = nil
	}
	if d.PrivilegedPrompt != "" {
		re, err := regexp.Compile(d.PrivilegedPrompt)
		if err != nil {
			return nil, fmt.Errorf("devicemodel: %s: privileged_prompt: %w", d.Name, err)
		}
		cli.PrivilegedPrompt = re
	}
	if d.EnableCommand != "" {
		cli.EnableCommand = d.EnableCommand
	}
	if d.Exit != "" {
		cli.Exit = d.Exit
	}
	v := &Vendor{Cmds: d.Commands, CLI: cli}
	if d.Raw {
		v.Process = Identity
	}
	return v, nil
}

// RegisterDefinitions builds and registers every definition.
func (r *Registry) RegisterDefinitions(defs []Definition) error {
	for _, d := range defs {
		v, err := d.Build()
		if err != nil {
			return err
		}
		if err := r.Register(d.Name, v); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a YAML list of definitions from path and registers them.
func (r *Registry) LoadFile(path string) error {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("devicemodel: read %s: %w", path, err)
	}
	var defs []Definition
	if err := yaml.Unmarshal(buf, &defs); err != nil {
		return fmt.Errorf("devicemodel: parse %s: %w", path, err)
	}
	return r.RegisterDefinitions(defs)
}
