package devicemodel

import (
	"regexp"
	"strings"
)

// Vendor is a table-driven Model.
type Vendor struct {
	Cmds    []string
	CLI     Dialect
	Process func(string) string
}

var _ Interactive = (*Vendor)(nil)

// Commands implements Model.
func (v *Vendor) Commands() []string {
	out := make([]string, len(v.Cmds))
	copy(out, v.Cmds)
	return out
}

// ProcessConfig implements Model.
func (v *Vendor) ProcessConfig(raw string) string {
	if v.Process != nil {
		return v.Process(raw)
	}
	return Normalize(raw)
}

// Dialect implements Interactive.
func (v *Vendor) Dialect() Dialect {
	return v.CLI
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// Normalize converts CRLF line endings to LF and removes ANSI escape
// sequences emitted by terminal-oriented CLIs.
func Normalize(raw string) string {
	s := ansiEscape.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// Identity returns raw unchanged.
func Identity(raw string) string {
	return raw
}

func builtins() map[string]Model {
	ciscoIOS := &Vendor{
		Cmds: []string{"show version", "show running-config"},
		CLI: Dialect{
			Prompt:           DefaultDialect.Prompt,
			PrivilegedPrompt: DefaultDialect.PrivilegedPrompt,
			EnableCommand:    "enable",
			Setup:            []string{"terminal length 0", "terminal width 0"},
			Exit:             "exit",
		},
	}
	ciscoNXOS := &Vendor{
		Cmds: []string{"show version", "show inventory", "show running-config"},
		CLI: Dialect{
			Prompt: DefaultDialect.Prompt,
			Setup:  []string{"terminal length 0"},
			Exit:   "exit",
		},
	}
	ciscoS300 := &Vendor{
		Cmds: []string{"show running-config"},
		CLI: Dialect{
			Prompt:           DefaultDialect.Prompt,
			PrivilegedPrompt: DefaultDialect.PrivilegedPrompt,
			EnableCommand:    "enable",
			Setup:            []string{"terminal datadump"},
			Exit:             "exit",
		},
	}
	fortiOS := &Vendor{
		// "show | grep ." keeps the pager out of the way.
		Cmds: []string{"get system status", "show | grep ."},
		CLI: Dialect{
			Prompt: regexp.MustCompile(`(?m)^[\w.\-()]+ ?[#$][ \t]*$`),
			Exit:   "exit",
		},
		Process: Normalize,
	}
	routerOS := &Vendor{
		Cmds: []string{
			"/system resource print",
			"/system package update print",
			"/system routerboard print",
			"/export",
		},
		CLI: Dialect{
			Prompt: regexp.MustCompile(`(?m)^\[[^\]\r\n]+\] ?>[ \t]*$`),
			Exit:   "/quit",
		},
	}
	junos := &Vendor{
		Cmds: []string{"show version", "show configuration | display set"},
		CLI: Dialect{
			Prompt: regexp.MustCompile(`(?m)^[\w.\-@]+[>#%][ \t]*$`),
			Setup:  []string{"set cli screen-length 0", "set cli screen-width 0"},
			Exit:   "exit",
		},
	}
	aristaEOS := &Vendor{
		Cmds: []string{"show version", "show running-config"},
		CLI: Dialect{
			Prompt:           DefaultDialect.Prompt,
			PrivilegedPrompt: DefaultDialect.PrivilegedPrompt,
			EnableCommand:    "enable",
			Setup:            []string{"terminal length 0", "terminal width 32767"},
			Exit:             "exit",
		},
	}

	return map[string]Model{
		"cisco_ios":         ciscoIOS,
		"cisco_xe":          ciscoIOS,
		"cisco_nxos":        ciscoNXOS,
		"cisco_s300":        ciscoS300,
		"fortios":           fortiOS,
		"fortigate":         fortiOS,
		"fortinet":          fortiOS,
		"routeros":          routerOS,
		"mikrotik":          routerOS,
		"mikrotik_routeros": routerOS,
		"juniper_junos":     junos,
		"arista_eos":        aristaEOS,
	}
}
