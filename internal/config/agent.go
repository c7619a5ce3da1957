package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"skyherd/internal/types"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrNoAgents is returned when the config directory holds no agent files.
var ErrNoAgents = errors.New("no agent configuration files found")

// AgentConfig describes one engagement identity (config/<name>.yaml).
type AgentConfig struct {
	Name            string                `yaml:"name"`
	Credentials     Credentials           `yaml:"credentials"`
	Engagement      EngagementConfig      `yaml:"engagement"`
	Content         ContentConfig         `yaml:"content"`
	EngagementStyle EngagementStyleConfig `yaml:"engagement_style"`
	Limits          LimitsConfig          `yaml:"limits"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-"`
}

// Credentials may reference environment variables as ${VAR}.
type Credentials struct {
	Username    string `yaml:"username"`
	AppPassword string `yaml:"app_password"`
}

// EngagementConfig drives candidate discovery.
type EngagementConfig struct {
	SearchTerms []string `yaml:"search_terms"`
	Hashtags    []string `yaml:"hashtags"`
	BioKeywords []string `yaml:"bio_keywords"`
}

// ContentConfig holds the persona used for original posts.
type ContentConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// EngagementStyleConfig shapes generated replies.
type EngagementStyleConfig struct {
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature"`
	MaxEmojis    int      `yaml:"max_emojis"`
}

// LimitsConfig overrides the default daily limits per kind.
type LimitsConfig struct {
	Daily map[string]int `yaml:"daily"`
}

const defaultReplyPrompt = `You're a casual social media user. Keep responses natural and friendly.
Use casual language and don't sound like a bot.
Keep it under 200 chars.`

// ReplySystemPrompt returns the configured reply persona or the default one.
func (a *AgentConfig) ReplySystemPrompt() string {
	if strings.TrimSpace(a.EngagementStyle.SystemPrompt) != "" {
		return a.EngagementStyle.SystemPrompt
	}
	return defaultReplyPrompt
}

// ReplyTemperature defaults to 0.9.
func (a *AgentConfig) ReplyTemperature() float64 {
	if a.EngagementStyle.Temperature != nil {
		return *a.EngagementStyle.Temperature
	}
	return 0.9
}

// DailyLimits merges limits.daily over types.DefaultDailyLimits.
// The result is the agent's original allocation.
func (a *AgentConfig) DailyLimits() (types.Limits, error) {
	limits := types.DefaultDailyLimits()
	for key, v := range a.Limits.Daily {
		kind, err := types.ParseActionKind(key)
		if err != nil {
			return nil, fmt.Errorf("agent %s: limits.daily: %w", a.Name, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("agent %s: limits.daily.%s must be >= 0", a.Name, key)
		}
		limits[kind] = v
	}
	return limits, nil
}

// Slug is the namespace used for the agent's state and log files.
func (a *AgentConfig) Slug() string {
	return Slug(a.Name)
}

// Slug lower-cases a name and replaces spaces with underscores.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Validate checks the fields every agent needs.
func (a *AgentConfig) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%s: name is required", a.Path)
	}
	if a.Credentials.Username == "" || a.Credentials.AppPassword == "" {
		return fmt.Errorf("agent %s: credentials are empty (check the referenced environment variables)", a.Name)
	}
	if len(a.Engagement.SearchTerms) == 0 {
		return fmt.Errorf("agent %s: engagement.search_terms must not be empty", a.Name)
	}
	if _, err := a.DailyLimits(); err != nil {
		return err
	}
	return nil
}

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandEnvRef resolves a value of the exact form ${VAR}; anything else is literal.
func expandEnvRef(v string) string {
	m := envRef.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return v
	}
	return os.Getenv(m[1])
}

// LoadAgent reads one agent file and resolves its credentials.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent config: %w", err)
	}

	var a AgentConfig
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse agent config %s: %w", path, err)
	}
	a.Path = path
	a.Credentials.Username = expandEnvRef(a.Credentials.Username)
	a.Credentials.AppPassword = expandEnvRef(a.Credentials.AppPassword)
	return &a, nil
}

// LoadAgents loads every *.yaml / *.yml file in dir, sorted by file name.
// A file that cannot be read or parsed is logged and skipped; an error is
// returned only when no agent loads. Agent names must be unique since they
// own the state namespace.
func LoadAgents(dir string, logger *zap.Logger) ([]*AgentConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAgents, dir)
	}
	sort.Strings(paths)

	agents := make([]*AgentConfig, 0, len(paths))
	seen := make(map[string]string)
	var loadErrs []error
	for _, p := range paths {
		a, err := LoadAgent(p)
		if err != nil {
			logger.Error("skipping agent file", zap.String("file", p), zap.Error(err))
			loadErrs = append(loadErrs, err)
			continue
		}
		slug := a.Slug()
		if prev, dup := seen[slug]; dup {
			return nil, fmt.Errorf("agents in %s and %s share the namespace %q", prev, p, slug)
		}
		seen[slug] = p
		agents = append(agents, a)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agent in %s could be loaded: %w", dir, errors.Join(loadErrs...))
	}
	return agents, nil
}
