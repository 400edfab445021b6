package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/issue-watch-bots/internal/bot"
	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
)

// BotsConfig is the bot topology file. Repositories and trackers are named
// once and referenced by name from the bot sections.
//
//	repositories:
//	  jdk: openjdk/jdk
//	trackers:
//	  csr:
//	    project: openjdk/csr-issues
//	    label: csr
//	bots:
//	  csr:
//	    projects:
//	      - repository: jdk
//	        issues: csr
type BotsConfig struct {
	Repositories map[string]string        `yaml:"repositories"`
	Trackers     map[string]TrackerConfig `yaml:"trackers"`
	Bots         map[string]BotConfig     `yaml:"bots"`
}

// TrackerConfig describes one issue tracker
type TrackerConfig struct {
	Forge   string `yaml:"forge,omitempty"`
	Project string `yaml:"project"`
	Label   string `yaml:"label,omitempty"`
}

// BotConfig lists the repository/tracker pairs of one bot
type BotConfig struct {
	Projects []ProjectConfig `yaml:"projects"`
}

// ProjectConfig binds a repository to the tracker holding its issues
type ProjectConfig struct {
	Repository string `yaml:"repository"`
	Issues     string `yaml:"issues"`
}

// LoadBots reads and parses the bots file at path
func LoadBots(path string) (*BotsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("read bots config %s: %v", path, err))
	}
	return ParseBots(data)
}

// ParseBots parses a bots file. Unknown keys are rejected so a typo cannot
// silently drop a tracker.
func ParseBots(data []byte) (*BotsConfig, error) {
	var cfg BotsConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("parse bots config: %v", err))
	}
	return &cfg, nil
}

// BotNames returns the configured bot sections in sorted order
func (c *BotsConfig) BotNames() []string {
	names := make([]string, 0, len(c.Bots))
	for name := range c.Bots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Repository resolves a repository alias
func (c *BotsConfig) Repository(name, forge string) (*domain.Repository, error) {
	fullName, ok := c.Repositories[name]
	if !ok {
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown repository %q", name))
	}
	if !validFullName(fullName) {
		return nil, apperrors.NewConfigError(fmt.Sprintf("repository %q: %q is not owner/repo", name, fullName))
	}
	return &domain.Repository{Name: name, Forge: forge, FullName: fullName}, nil
}

// Tracker resolves a tracker alias. Trackers without a forge inherit
// defaultForge.
func (c *BotsConfig) Tracker(name, defaultForge string) (*domain.Tracker, error) {
	tc, ok := c.Trackers[name]
	if !ok {
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown tracker %q", name))
	}
	if !validFullName(tc.Project) {
		return nil, apperrors.NewConfigError(fmt.Sprintf("tracker %q: project %q is not owner/repo", name, tc.Project))
	}
	forge := tc.Forge
	if forge == "" {
		forge = defaultForge
	}
	return &domain.Tracker{Name: name, Forge: forge, Project: tc.Project, Label: tc.Label}, nil
}

// Entries resolves the named bot section into composer entries. Any unknown
// reference fails the whole resolution.
func (c *BotsConfig) Entries(botName, forge string) ([]bot.Entry, error) {
	bc, ok := c.Bots[botName]
	if !ok {
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown bot %q", botName))
	}
	if len(bc.Projects) == 0 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("bot %q has no projects", botName))
	}

	entries := make([]bot.Entry, 0, len(bc.Projects))
	for i, p := range bc.Projects {
		repo, err := c.Repository(p.Repository, forge)
		if err != nil {
			return nil, fmt.Errorf("bot %s project %d: %w", botName, i, err)
		}
		tracker, err := c.Tracker(p.Issues, forge)
		if err != nil {
			return nil, fmt.Errorf("bot %s project %d: %w", botName, i, err)
		}
		entries = append(entries, bot.Entry{Repository: repo, Tracker: tracker})
	}
	return entries, nil
}

func validFullName(s string) bool {
	owner, repo, ok := strings.Cut(s, "/")
	return ok && owner != "" && repo != "" && !strings.Contains(repo, "/")
}
