package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestExpand(t *testing.T) {
	env := map[string]string{"NETBOX_TOKEN": "abc", "EMPTY": ""}
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"required set", "token: ${NETBOX_TOKEN}", "token: abc", false},
		{"default unused", "token: ${NETBOX_TOKEN:-xyz}", "token: abc", false},
		{"default used", "path: ${BACKUP_DIR:-/var/backups}", "path: /var/backups", false},
		{"empty default", "x: ${UNSET:-}", "x: ", false},
		{"empty with default", "x: ${EMPTY:-d}", "x: d", false},
		{"empty required", "x: ${EMPTY}", "x: ", false},
		{"required missing", "x: ${UNSET}", "", true},
		{"no refs", "plain $HOME text", "plain $HOME text", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Expand(tc.in, lookupFrom(env))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMissingVariable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExpandNamesAllMissing(t *testing.T) {
	_, err := Expand("${A} ${B:-b} ${C}", lookupFrom(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A, C")
}

const sample = `
input:
  - type: netbox
    config:
      url: ${NETBOX_URL:-https://netbox.example.com}
      token: ${EDNA_TEST_TOKEN}
output:
  - type: filesystem
    config:
      path: /var/backups/edna
  - type: git
    retention: 30
    config:
      path: /var/backups/edna-git
scheduler:
  enabled: true
  cron: "0 3 * * *"
executor:
  command_timeout: 2m
models:
  - name: vyos
    commands: ["show configuration commands"]
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(sample), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, ".env"), []byte("EDNA_TEST_TOKEN=from-dotenv\n"), 0600))
	defer os.Unsetenv("EDNA_TEST_TOKEN")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Input, 1)
	assert.Equal(t, "netbox", cfg.Input[0].Type)
	assert.Equal(t, "from-dotenv", cfg.Input[0].Config["token"])
	assert.Equal(t, "https://netbox.example.com", cfg.Input[0].Config["url"])

	assert.Equal(t, []string{"filesystem", "git"}, cfg.OutputTypes())
	assert.Equal(t, DefaultRetention, cfg.Output[0].Retention)
	assert.Equal(t, 30, cfg.Output[1].Retention)
	assert.Equal(t, DefaultRetention, cfg.Retention())

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.Cron)
	assert.Equal(t, DefaultMaxWorkers, cfg.Scheduler.MaxWorkers)

	assert.Equal(t, 2*time.Minute, cfg.Executor.CommandTimeout)
	assert.Equal(t, DefaultConnectTimeout, cfg.Executor.ConnectTimeout)
	assert.Equal(t, DefaultAPIAddr, cfg.API.Addr)
	assert.Equal(t, DefaultDatabaseURL, cfg.Database.URL)
	assert.Equal(t, DefaultJWTExpire, cfg.Auth.JWT.ExpireMinutes)

	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "vyos", cfg.Models[0].Name)
}

func TestLoadExistingEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(sample), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, ".env"), []byte("EDNA_TEST_TOKEN=from-dotenv\n"), 0600))
	os.Setenv("EDNA_TEST_TOKEN", "from-env")
	defer os.Unsetenv("EDNA_TEST_TOKEN")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Input[0].Config["token"])
}

func TestLoadMissingVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(sample), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingVariable)
}

func TestLoadExpandsValuesOnly(t *testing.T) {
	const text = `
# set ${EDNA_UNSET_IN_COMMENT} to override the token
input:
  - type: static
    config:
      devices:
        - name: r1
          host: 10.0.0.1
          device_type: cisco_ios
          password: ${EDNA_TEST_PW}
          enable_secret: ${EDNA_TEST_SECRET:-fallback}
output:
  - type: filesystem
    retention: -1
    config:
      path: /var/backups/edna
  - type: git
    retention: 0
    config:
      path: /var/backups/edna-git
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(text), 0600))
	os.Setenv("EDNA_TEST_PW", "abc #def: *ghi")
	os.Setenv("EDNA_TEST_SECRET", "&anchor")
	defer os.Unsetenv("EDNA_TEST_PW")
	defer os.Unsetenv("EDNA_TEST_SECRET")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Input, 1)
	devices, ok := cfg.Input[0].Config["devices"].([]interface{})
	require.True(t, ok)
	require.Len(t, devices, 1)
	d, ok := devices[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc #def: *ghi", d["password"])
	assert.Equal(t, "&anchor", d["enable_secret"])

	assert.Equal(t, -1, cfg.Output[0].Retention)
	assert.Equal(t, DefaultRetention, cfg.Output[1].Retention)
}

func TestExpandTreeNamesKey(t *testing.T) {
	tree := map[string]interface{}{
		"auth": map[interface{}]interface{}{"secret_key": "${EDNA_MISSING}"},
		"list": []interface{}{"${HOME_DIR:-/home}", 3},
	}
	_, err := ExpandTree(tree, lookupFrom(nil))
	require.ErrorIs(t, err, ErrMissingVariable)
	assert.Contains(t, err.Error(), "auth.secret_key")

	out, err := ExpandTree(map[string]interface{}{"list": tree["list"]}, lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"list": []interface{}{"/home", 3}}, out)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).Validate(), ErrNoInput)
	assert.ErrorIs(t, (&Config{Input: []Plugin{{Type: "csv"}}}).Validate(), ErrNoOutput)
	assert.Error(t, (&Config{Input: []Plugin{{}}, Output: []Plugin{{Type: "filesystem"}}}).Validate())
}

func TestDecode(t *testing.T) {
	var out struct {
		Timeout time.Duration `mapstructure:"timeout"`
		Port    int           `mapstructure:"port"`
		Tags    []string      `mapstructure:"tags"`
	}
	err := Decode(map[string]interface{}{"timeout": "45s", "port": "2222", "tags": "core,edge"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, out.Timeout)
	assert.Equal(t, 2222, out.Port)
	assert.Equal(t, []string{"core", "edge"}, out.Tags)
}
