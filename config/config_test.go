package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultConfig(t *testing.T) *Configuration {
	t.Helper()
	v := viper.New()
	SetupViper(v, "")
	cfg, err := New(v)
	require.NoError(t, err)
	return cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := newDefaultConfig(t)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.True(t, cfg.Reporting.BeaconsEnabled)
	assert.True(t, cfg.FrequencyCap.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Scoring())
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Fetch())
}

func TestValidateRejectsZeroScoringTimeout(t *testing.T) {
	cfg := newDefaultConfig(t)
	cfg.Timeouts.ScoringMS = 0
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring_ms")
}

func TestValidateRejectsBadStorageType(t *testing.T) {
	cfg := newDefaultConfig(t)
	cfg.Storage.Type = "cassandra"
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.type")
}

func TestValidateRejectsInvertedEvictionBounds(t *testing.T) {
	cfg := newDefaultConfig(t)
	cfg.FrequencyCap.LowerMaxTotalEvents = 100
	cfg.FrequencyCap.AbsoluteMaxTotalEvents = 50
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower_max_total_events")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := newDefaultConfig(t)
	cfg.Timeouts.ScoringMS = 0
	cfg.Timeouts.PerScriptMS = 0
	err := cfg.validate()
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "must be positive"))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FLEDGE_TIMEOUTS_SCORING_MS", "1234")
	v := viper.New()
	SetupViper(v, "")
	cfg, err := New(v)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), cfg.Timeouts.ScoringMS)
}

func TestPostgresConnString(t *testing.T) {
	testCases := []struct {
		description string
		pg          Postgres
		expected    string
	}{
		{
			description: "all fields",
			pg:          Postgres{Host: "db.example.com", Port: 5432, Dbname: "fledge", User: "svc", Password: "secret"},
			expected:    "host=db.example.com port=5432 user=svc password=secret dbname=fledge sslmode=disable",
		},
		{
			description: "empty fields omitted",
			pg:          Postgres{Dbname: "fledge"},
			expected:    "dbname=fledge sslmode=disable",
		},
	}
	for _, test := range testCases {
		assert.Equal(t, test.expected, test.pg.ConnString(), test.description)
	}
}
