package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CREDENTIALS_EMAIL", "jane@example.com")
	t.Setenv("CREDENTIALS_FIRST_NAME", "Jane")
	t.Setenv("CREDENTIALS_LAST_NAME", "Doe")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "signups.db"))
}

func TestLoadDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "csv", cfg.Settings.DataSource)
	assert.Equal(t, 20, cfg.Settings.AdLimit)
	assert.Equal(t, 30, cfg.Settings.MaxSignups)
	assert.Equal(t, "gpt-4o-mini", cfg.Settings.LLMModel)
	assert.True(t, cfg.Settings.BatchPlanning)
	assert.True(t, cfg.Settings.Headless)
	assert.Equal(t, 5, cfg.Settings.MinDelay)
	assert.Equal(t, 15, cfg.Settings.MaxDelay)
}

func TestValidateClampsOutOfRangeSettings(t *testing.T) {
	baseEnv(t)
	t.Setenv("AD_LIMIT", "500")
	t.Setenv("MAX_SIGNUPS", "0")
	t.Setenv("MIN_DELAY", "1")
	t.Setenv("MAX_DELAY", "999")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Settings.AdLimit)
	assert.Equal(t, 30, cfg.Settings.MaxSignups)
	assert.Equal(t, 5, cfg.Settings.MinDelay)
	assert.Equal(t, 120, cfg.Settings.MaxDelay)
}

func TestValidateRejectsUnknownSource(t *testing.T) {
	baseEnv(t)
	t.Setenv("DATA_SOURCE", "carrier-pigeon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresAPIKeyAndIdentity(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "db"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CREDENTIALS_EMAIL", "jane@example.com")
	t.Setenv("CREDENTIALS_FIRST_NAME", "Jane")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "OPENAI_API_KEY")
}

func TestApplyFileOverlaysSettings(t *testing.T) {
	baseEnv(t)

	path := filepath.Join(t.TempDir(), "bot_config.json")
	doc := `{
		"credentials": {"first_name": "Max", "last_name": "Power", "email": "max@example.com", "phone": "3001234567"},
		"api_keys": {"openai": "sk-file", "captcha": "cap-file"},
		"settings": {"data_source": "database", "max_signups": 7, "llm_model": "gpt-4o", "batch_planning": false}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	fc, err := LoadFile(path)
	require.NoError(t, err)
	cfg.ApplyFile(fc)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "max@example.com", cfg.Credentials.Email)
	assert.Equal(t, "1", cfg.Credentials.CountryCode)
	assert.Equal(t, "sk-file", cfg.APIKeys.OpenAI)
	assert.Equal(t, "database", cfg.Settings.DataSource)
	assert.Equal(t, 7, cfg.Settings.MaxSignups)
	assert.Equal(t, "gpt-4o", cfg.Settings.LLMModel)
	assert.False(t, cfg.Settings.BatchPlanning)
	// Absent keys keep env defaults.
	assert.Equal(t, 20, cfg.Settings.AdLimit)
}

func TestApplyOverridesWinOverFile(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.ApplyOverrides(Overrides{
		CredentialsJSON: `{"first_name":"Cli","last_name":"User","email":"cli@example.com"}`,
		Source:          "meta",
		MaxSignups:      3,
		Headless:        false,
		HeadlessSet:     true,
		Debug:           true,
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cli@example.com", cfg.Credentials.Email)
	assert.Equal(t, "meta", cfg.Settings.DataSource)
	assert.Equal(t, 3, cfg.Settings.MaxSignups)
	assert.False(t, cfg.Settings.Headless)
	assert.True(t, cfg.Settings.Debug)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyOverridesRejectsBadCredentialsJSON(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.ApplyOverrides(Overrides{CredentialsJSON: "{not json"}))
}

func TestToCredentialsComposesFullName(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	creds := cfg.ToCredentials()
	assert.Equal(t, "Jane Doe", creds.FullName)
	assert.Equal(t, "jane@example.com", creds.Email)
	assert.Equal(t, "1", creds.CountryCode)
}
