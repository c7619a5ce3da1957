package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"skyherd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PROCESS CONFIG TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "SKYHERD_DATA_DIR", "SKYHERD_CONFIG_DIR", "BLUESKY_SERVICE_URL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "json", cfg.Storage.Backend)
	assert.Equal(t, "https://bsky.social", cfg.Network.ServiceURL)

	timing := cfg.Scheduler.Timing()
	assert.Equal(t, 180*time.Second, timing.Cycle.Min)
	assert.Equal(t, 300*time.Second, timing.Cycle.Max)
	assert.Equal(t, 300*time.Second, timing.ErrorBackoff)
	assert.Equal(t, 4*time.Hour, timing.AnalysisInterval)
	assert.Equal(t, 30*time.Minute, timing.SnapshotInterval)
	assert.Equal(t, Range{Min: 30 * time.Second, Max: 60 * time.Second}, timing.FollowPacing)
}

func TestConfig_MissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DataDir, cfg.DataDir)
}

func TestConfig_LoadOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "skyherd.yaml")
	doc := "storage:\n  backend: sqlite\nllm:\n  api_key: sk-test\nscheduler:\n  cycle_min: 1s\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", loaded.Storage.Backend)
	assert.Equal(t, "sk-test", loaded.LLM.APIKey)
	assert.Equal(t, time.Second, loaded.Scheduler.Timing().Cycle.Min)
	assert.Equal(t, filepath.Join("data", "skyherd.db"), loaded.SQLitePath())
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Run("OPENAI_API_KEY keeps provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("GEMINI_API_KEY wins and switches model", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "gm-key")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "gm-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
		assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	})

	t.Run("directories and service url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SKYHERD_DATA_DIR", "/var/lib/skyherd")
		t.Setenv("BLUESKY_SERVICE_URL", "https://pds.example")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/var/lib/skyherd", cfg.DataDir)
		assert.Equal(t, "https://pds.example", cfg.Network.ServiceURL)
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate(), "the LLM key is not needed to inspect or control agents")
	assert.Error(t, cfg.ValidateLLM(), "missing API key")

	cfg.LLM.APIKey = "k"
	assert.NoError(t, cfg.ValidateLLM())
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLiteDriver = "pgx"
	assert.Error(t, cfg.Validate())

	cfg.Storage.SQLiteDriver = "sqlite3"
	cfg.Scheduler.CycleMin = "10m"
	cfg.Scheduler.CycleMax = "1m"
	assert.Error(t, cfg.Validate())
}

func TestPacingAllowsZero(t *testing.T) {
	s := DefaultSchedulerConfig()
	s.Pacing.LikeMin = "0s"
	s.Pacing.LikeMax = "0s"
	assert.Equal(t, Range{}, s.Timing().LikePacing)
	assert.Equal(t, time.Duration(0), s.Timing().LikePacing.At(0.9))
}

func TestRangeAt(t *testing.T) {
	r := Range{Min: 180 * time.Second, Max: 300 * time.Second}
	assert.Equal(t, 180*time.Second, r.At(0))
	assert.Equal(t, 240*time.Second, r.At(0.5))
	assert.Less(t, r.At(0.999999), 300*time.Second)
}

// =============================================================================
// AGENT CONFIG TESTS
// =============================================================================

const agentYAML = `name: Tech Bot
credentials:
  username: ${TECHBOT_USER}
  app_password: ${TECHBOT_PASS}
engagement:
  search_terms: [golang, distributed systems]
  hashtags: ["#go", "#systems"]
  bio_keywords: [engineer]
content:
  system_prompt: You are a friendly engineer.
engagement_style:
  temperature: 0.5
  max_emojis: 1
limits:
  daily:
    likes: 10
    reposts: 5
`

func writeAgent(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestLoadAgent(t *testing.T) {
	t.Setenv("TECHBOT_USER", "tech.bsky.social")
	t.Setenv("TECHBOT_PASS", "app-pass")
	p := writeAgent(t, t.TempDir(), "tech.yaml", agentYAML)

	a, err := LoadAgent(p)
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	assert.Equal(t, "tech.bsky.social", a.Credentials.Username)
	assert.Equal(t, "app-pass", a.Credentials.AppPassword)
	assert.Equal(t, "tech_bot", a.Slug())
	assert.Equal(t, 0.5, a.ReplyTemperature())
	assert.Contains(t, a.ReplySystemPrompt(), "casual social media user")

	limits, err := a.DailyLimits()
	require.NoError(t, err)
	assert.Equal(t, 10, limits[types.ActionLike])
	assert.Equal(t, 5, limits[types.ActionRepost])
	assert.Equal(t, 750, limits[types.ActionFollow], "unset kinds keep defaults")
}

func TestLoadAgent_UnknownLimitKind(t *testing.T) {
	a := &AgentConfig{Name: "x", Limits: LimitsConfig{Daily: map[string]int{"boosts": 1}}}
	_, err := a.DailyLimits()
	assert.Error(t, err)
}

func TestLoadAgent_MissingCredentials(t *testing.T) {
	t.Setenv("TECHBOT_USER", "")
	t.Setenv("TECHBOT_PASS", "")
	a, err := LoadAgent(writeAgent(t, t.TempDir(), "tech.yaml", agentYAML))
	require.NoError(t, err)
	assert.Error(t, a.Validate())
}

func TestLoadAgents(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "b.yaml", "name: Beta\n")
	writeAgent(t, dir, "a.yml", "name: Alpha\n")
	writeAgent(t, dir, "notes.txt", "ignored")

	agents, err := LoadAgents(dir, nil)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "Alpha", agents[0].Name)
	assert.Equal(t, "Beta", agents[1].Name)

	_, err = LoadAgents(t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoAgents)

	writeAgent(t, dir, "c.yaml", "name: alpha\n")
	_, err = LoadAgents(dir, nil)
	assert.Error(t, err, "duplicate namespace")
}

func TestLoadAgentsSkipsUnparsableFiles(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "a_good.yaml", "name: Good\n")
	writeAgent(t, dir, "b_bad.yaml", "name: [unterminated\n")

	agents, err := LoadAgents(dir, nil)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Good", agents[0].Name)

	only := t.TempDir()
	writeAgent(t, only, "bad.yaml", "name: [unterminated\n")
	_, err = LoadAgents(only, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestExpandEnvRef(t *testing.T) {
	t.Setenv("SOME_VAR", "value")
	assert.Equal(t, "value", expandEnvRef("${SOME_VAR}"))
	assert.Equal(t, "pa$$word", expandEnvRef("pa$$word"))
	assert.Equal(t, "plain", expandEnvRef("plain"))
}
