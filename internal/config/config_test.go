// ABOUTME: Tests for configuration loading, env expansion and validation.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
account:
  uin: 4634020
  password: hunter2
  export_contacts: true
server:
  addr: gg.example.net:8074
  use_tls: true
  use_specified_server: true
roster:
  path: /var/lib/gadu-bridge/roster.db
frontends:
  matrix:
    enabled: true
    homeserver: https://matrix.example.org
    user_id: "@bridge:example.org"
    access_token: syt_secret
    room_id: "!room:example.org"
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(4634020), cfg.Account.UIN)
	assert.Equal(t, "hunter2", cfg.Account.Password)
	assert.True(t, cfg.Account.ExportContacts)
	assert.True(t, cfg.Server.UseTLS)
	assert.True(t, cfg.Server.UseSpecifiedServer)
	assert.Equal(t, "/var/lib/gadu-bridge/roster.db", cfg.Roster.Path)
	assert.True(t, cfg.Frontends.Matrix.Enabled)
	assert.Equal(t, "!gg", cfg.Frontends.Matrix.CommandPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
account:
  uin: 100
  password: pw
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gadu-bridge.db", cfg.Roster.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Discovery.URL, "empty URL means the production hub")
	assert.False(t, cfg.Frontends.Matrix.Enabled)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("GG_PASSWORD", "from-env")
	path := writeConfig(t, `
account:
  uin: 100
  password: ${GG_PASSWORD}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Account.Password)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing uin",
			yaml:    "account:\n  password: pw\n",
			wantErr: "account.uin",
		},
		{
			name:    "missing password",
			yaml:    "account:\n  uin: 100\n",
			wantErr: "account.password",
		},
		{
			name:    "specified server without addr",
			yaml:    "account:\n  uin: 100\n  password: pw\nserver:\n  use_specified_server: true\n",
			wantErr: "server.addr",
		},
		{
			name:    "matrix enabled without homeserver",
			yaml:    "account:\n  uin: 100\n  password: pw\nfrontends:\n  matrix:\n    enabled: true\n",
			wantErr: "frontends.matrix.homeserver",
		},
		{
			name:    "bad log level",
			yaml:    "account:\n  uin: 100\n  password: pw\nlogging:\n  level: loud\n",
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
