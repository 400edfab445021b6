package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/issue-watch-bots/internal/config"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
)

func writeBots(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestComposeBots(t *testing.T) {
	path := writeBots(t, `
repositories:
  jdk: openjdk/jdk
  jdk21u: openjdk/jdk21u
trackers:
  csr: {project: openjdk/csr-issues, label: csr}
bots:
  csr:
    projects:
      - {repository: jdk, issues: csr}
      - {repository: jdk21u, issues: csr}
`)
	cfg := &config.Config{BotsConfigPath: path, BotName: "csr"}

	bots, err := composeBots(cfg, logging.NewNop())
	require.NoError(t, err)
	require.Len(t, bots, 3)
	assert.Equal(t, "IssueBot@github.com/openjdk/csr-issues#csr", bots[0].Name())
	assert.Equal(t, "PullRequestBot@openjdk/jdk21u", bots[2].Name())
}

func TestComposeBots_EnterpriseHost(t *testing.T) {
	path := writeBots(t, `
repositories: {app: team/app}
trackers: {tickets: {project: team/tickets}}
bots: {csr: {projects: [{repository: app, issues: tickets}]}}
`)
	cfg := &config.Config{BotsConfigPath: path, BotName: "csr", GitHubAPIURL: "https://ghe.example.com/api/v3"}

	bots, err := composeBots(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "IssueBot@ghe.example.com/team/tickets", bots[0].Name())
}

func TestComposeBots_ConfigErrorsAreFatal(t *testing.T) {
	path := writeBots(t, "bots: {csr: {projects: [{repository: jdk, issues: csr}]}}\n")
	cfg := &config.Config{BotsConfigPath: path, BotName: "csr"}

	bots, err := composeBots(cfg, logging.NewNop())
	require.Error(t, err)
	assert.Nil(t, bots)
	assert.True(t, apperrors.IsConfig(err))
}

func TestHumanizeAge(t *testing.T) {
	assert.Equal(t, "5s ago", humanizeAge(5*time.Second))
	assert.Equal(t, "3m ago", humanizeAge(3*time.Minute+10*time.Second))
	assert.Equal(t, "2h ago", humanizeAge(2*time.Hour))
}
