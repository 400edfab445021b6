package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"GITHUB_TOKEN", "POLL_INTERVAL", "STORAGE_TYPE", "BOTS_CONFIG", "BOT_NAME"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, "sqlite", cfg.StorageType)
	assert.Equal(t, "./bots.yaml", cfg.BotsConfigPath)
	assert.Equal(t, "csr", cfg.BotName)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("POLL_INTERVAL", "15s")
	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://localhost/bots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")

	_, err := Load()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "POLL_INTERVAL", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	valid := Config{GitHubToken: "t", PollInterval: time.Minute, BotsConfigPath: "bots.yaml", StorageType: "sqlite"}

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"missing token", func(c *Config) { c.GitHubToken = "" }, "GITHUB_TOKEN"},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, "POLL_INTERVAL"},
		{"bad storage", func(c *Config) { c.StorageType = "mysql" }, "STORAGE_TYPE"},
		{"postgres without url", func(c *Config) { c.StorageType = "postgres" }, "POSTGRES_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	assert.NoError(t, valid.Validate())
}

const botsYAML = `
repositories:
  jdk: openjdk/jdk
  jdk21u: openjdk/jdk21u
trackers:
  csr:
    project: openjdk/csr-issues
    label: csr
  csr-mirror:
    project: OpenJDK/csr-issues
    label: csr
bots:
  csr:
    projects:
      - repository: jdk
        issues: csr
      - repository: jdk21u
        issues: csr-mirror
`

func TestParseBots_Entries(t *testing.T) {
	cfg, err := ParseBots([]byte(botsYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"csr"}, cfg.BotNames())

	entries, err := cfg.Entries("csr", "github.com")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "openjdk/jdk", entries[0].Repository.FullName)
	assert.Equal(t, "github.com", entries[0].Repository.Forge)
	assert.Equal(t, "csr", entries[0].Tracker.Label)
	assert.Equal(t, entries[0].Tracker.Key(), entries[1].Tracker.Key())
}

func TestEntries_UnknownReferencesAreFatal(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown repository",
			yaml: "repositories: {}\ntrackers: {csr: {project: a/b}}\nbots: {csr: {projects: [{repository: jdk, issues: csr}]}}\n",
			want: `unknown repository "jdk"`,
		},
		{
			name: "unknown tracker",
			yaml: "repositories: {jdk: openjdk/jdk}\ntrackers: {}\nbots: {csr: {projects: [{repository: jdk, issues: csr}]}}\n",
			want: `unknown tracker "csr"`,
		},
		{
			name: "bad repository name",
			yaml: "repositories: {jdk: jdk}\ntrackers: {csr: {project: a/b}}\nbots: {csr: {projects: [{repository: jdk, issues: csr}]}}\n",
			want: "is not owner/repo",
		},
		{
			name: "no projects",
			yaml: "bots: {csr: {projects: []}}\n",
			want: "has no projects",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseBots([]byte(tt.yaml))
			require.NoError(t, err)

			entries, err := cfg.Entries("csr", "github.com")
			require.Error(t, err)
			assert.Nil(t, entries)
			assert.True(t, apperrors.IsConfig(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEntries_UnknownBot(t *testing.T) {
	cfg, err := ParseBots([]byte(botsYAML))
	require.NoError(t, err)

	_, err = cfg.Entries("notify", "github.com")
	assert.True(t, apperrors.IsConfig(err))
}

func TestParseBots_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseBots([]byte("trackers:\n  csr:\n    projct: openjdk/csr\n"))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestLoadBots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(botsYAML), 0o600))

	cfg, err := LoadBots(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Repositories, 2)

	_, err = LoadBots(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, apperrors.IsConfig(err))
}
