package devicemodel

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizflycloud/edna/pkg/models"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		deviceType string
		wantCmds   []string
	}{
		{"cisco_ios", []string{"show version", "show running-config"}},
		{"cisco_xe", []string{"show version", "show running-config"}},
		{"cisco_nxos", []string{"show version", "show inventory", "show running-config"}},
		{"cisco_s300", []string{"show running-config"}},
		{"fortigate", []string{"get system status", "show | grep ."}},
		{"mikrotik", []string{"/system resource print", "/system package update print", "/system routerboard print", "/export"}},
	}
	for _, tc := range tests {
		t.Run(tc.deviceType, func(t *testing.T) {
			m, err := r.Resolve(tc.deviceType)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCmds, m.Commands())
		})
	}
}

func TestRegistryResolveExactMatchOnly(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"Cisco_IOS", "cisco", "cisco_ios ", "CiscoIos"} {
		_, err := r.Resolve(name)
		assert.ErrorIs(t, err, models.ErrUnknownDeviceType, name)
	}
}

func TestCommandsAreCopied(t *testing.T) {
	m, err := NewRegistry().Resolve("cisco_ios")
	require.NoError(t, err)
	cmds := m.Commands()
	cmds[0] = "reload"
	assert.Equal(t, "show version", m.Commands()[0])
}

func TestProcessConfigIdempotent(t *testing.T) {
	raw := "! Command: show running-config\r\n\x1b[2Khostname r1\r\ninterface Gi0/1\r\n description uplink \r\n"
	r := NewRegistry()
	for _, name := range r.Names() {
		m, err := r.Resolve(name)
		require.NoError(t, err)
		once := m.ProcessConfig(raw)
		assert.Equal(t, once, m.ProcessConfig(once), name)
		assert.Contains(t, once, " description uplink ", name)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\nb\n", Normalize("a\r\nb\r\n"))
	assert.Equal(t, "[admin@r1] > ", Normalize("\x1b[9999B[admin@r1] > "))
	assert.Equal(t, "password 7 0822455D0A16", Normalize("password 7 0822455D0A16"))
}

func TestDialects(t *testing.T) {
	r := NewRegistry()

	ios, _ := r.Resolve("cisco_ios")
	d := DialectOf(ios)
	assert.True(t, d.Prompt.MatchString("core-sw1>"))
	assert.True(t, d.Prompt.MatchString("core-sw1#"))
	assert.True(t, d.PrivilegedPrompt.MatchString("core-sw1#"))
	assert.False(t, d.PrivilegedPrompt.MatchString("core-sw1>"))
	assert.Contains(t, d.Setup, "terminal length 0")
	assert.True(t, d.Prompt.MatchString("Building configuration...\r\nr1#"))
	assert.False(t, d.Prompt.MatchString("username admin secret 5 $1$"))
	assert.False(t, d.Prompt.MatchString(" description uplink > core"))
	assert.False(t, d.Prompt.MatchString("hostname r1\n#"))

	ros, _ := r.Resolve("routeros")
	assert.True(t, DialectOf(ros).Prompt.MatchString("[admin@MikroTik] > "))

	junos, _ := r.Resolve("juniper_junos")
	assert.True(t, DialectOf(junos).Prompt.MatchString("netops@mx1> "))
}

type plainModel struct{}

func (plainModel) Commands() []string           { return []string{"cat /etc/config"} }
func (plainModel) ProcessConfig(s string) string { return s }

func TestDialectOfFallsBack(t *testing.T) {
	assert.Equal(t, DefaultDialect.EnableCommand, DialectOf(plainModel{}).EnableCommand)
}

func TestRegisterDefinitions(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterDefinitions([]Definition{{
		Name:     "opengear",
		Commands: []string{"config -g config"},
		Prompt:   `\$ $`,
		Raw:      true,
	}})
	require.NoError(t, err)

	m, err := r.Resolve("opengear")
	require.NoError(t, err)
	assert.Equal(t, []string{"config -g config"}, m.Commands())
	assert.Equal(t, "a\r\n", m.ProcessConfig("a\r\n"))
	assert.True(t, DialectOf(m).Prompt.MatchString("root@og:~$ "))

	assert.Error(t, r.RegisterDefinitions([]Definition{{Name: "empty"}}))
	assert.Error(t, r.RegisterDefinitions([]Definition{{Name: "bad", Commands: []string{"x"}, Prompt: "("}}))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	content := `
- name: cisco_ios
  commands: ["show running-config all"]
  setup: ["terminal length 0"]
- name: vyos
  commands: ["show configuration commands"]
`
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))

	ios, err := r.Resolve("cisco_ios")
	require.NoError(t, err)
	assert.Equal(t, []string{"show running-config all"}, ios.Commands())

	_, err = r.Resolve("vyos")
	assert.NoError(t, err)
}
