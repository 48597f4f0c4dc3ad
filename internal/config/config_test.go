package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"alixia/internal/capability"
	"alixia/internal/identity"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "alixia", cfg.Service.Name)
	assert.Equal(t, 30*time.Second, cfg.Server.TurnTimeout.Std())
	assert.Zero(t, cfg.Pipeline.StallTimeout)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Len(t, cfg.Matcher.Rules, 6)
	assert.Equal(t, `timer for (\d+)`, cfg.Matcher.Rules[2].Pattern)
}

func TestCatalogIncludesReserved(t *testing.T) {
	cat := Default().Catalog()
	assert.True(t, cat.Has(capability.RespondToClient))
	assert.True(t, cat.Has(capability.Version))
	assert.Equal(t, "Say the current time", cat["tell_time"])
}

func TestEnabledRooms(t *testing.T) {
	rooms, err := Default().EnabledRooms()
	require.NoError(t, err)
	assert.Len(t, rooms, 8)
	assert.Contains(t, rooms, identity.Controller)

	cfg := Default()
	cfg.Rooms.Enabled = append(cfg.Rooms.Enabled, "attic")
	_, err = cfg.EnabledRooms()
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"no name":        {func(c *Config) { c.Service.Name = "" }, "service.name"},
		"workers":        {func(c *Config) { c.Pipeline.Workers = -1 }, "workers"},
		"stall":          {func(c *Config) { c.Pipeline.StallTimeout = Duration(-time.Second) }, "stall_timeout"},
		"no controller":  {func(c *Config) { c.Rooms.Enabled = []string{"overmind", "frontdesk"} }, "must include controller"},
		"unknown rule":   {func(c *Config) { c.Matcher.Rules[0].Capability = "fly" }, "unknown capability fly"},
		"confidence":     {func(c *Config) { c.Matcher.Rules[0].Confidence = 101 }, "0..100"},
		"empty rule":     {func(c *Config) { c.Matcher.Rules[0].Keywords = nil }, "keywords or a pattern"},
		"webhook no url": {func(c *Config) { c.Webhooks = []WebhookConfig{{Events: []string{"*"}}} }, "empty url"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestDurationYAML(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 1m30s\nb: 0\nc: \"\"\n"), &v))
	assert.Equal(t, 90*time.Second, v.A.Std())
	assert.Zero(t, v.B)
	assert.Zero(t, v.C)

	err := yaml.Unmarshal([]byte("a: soon\n"), &v)
	assert.ErrorContains(t, err, `invalid duration "soon"`)

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(out), "a: 1m30s")
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.ErrorContains(t, err, "alixia config init")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault("kitchen")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", cfg.Service.Name)

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte(strings.Replace(GenerateDefault("x"), "confidence: 70", "confidence: 700", 1)), 0o644))
	_, err = FromFile(bad)
	assert.ErrorContains(t, err, "confidence")
}
