package services

import (
	"testing"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSystemConfig(t *testing.T) *SystemConfigService {
	t.Helper()
	db := newTestDB(t)
	require.NoError(t, models.Seed(db))
	return NewSystemConfigService(db)
}

func TestSystemConfigService_SeededDefaults(t *testing.T) {
	s := newTestSystemConfig(t)

	assert.Equal(t, 30, s.GetInt(models.ConfigLogRetentionDays, 0))
	assert.True(t, s.GetBool(models.ConfigCostReportEnabled, false))
	assert.Equal(t, "00:05", s.GetWithDefault(models.ConfigCostReportTime, ""))
	assert.Equal(t, "fallback", s.GetWithDefault("missing", "fallback"))

	report, err := s.GetByGroup("report")
	require.NoError(t, err)
	assert.Len(t, report, 2)
}

func TestSystemConfigService_SetCreatesAndUpdates(t *testing.T) {
	s := newTestSystemConfig(t)

	require.NoError(t, s.Set("feature_x", "on"))
	v, err := s.Get("feature_x")
	require.NoError(t, err)
	assert.Equal(t, "on", v)

	require.NoError(t, s.Set("feature_x", "off"))
	v, err = s.Get("feature_x")
	require.NoError(t, err)
	assert.Equal(t, "off", v)
}

func TestSystemConfigService_TypedFallbacks(t *testing.T) {
	s := newTestSystemConfig(t)
	require.NoError(t, s.Set(models.ConfigLogRetentionDays, "forever"))
	require.NoError(t, s.Set(models.ConfigCostReportEnabled, "maybe"))

	assert.Equal(t, 30, s.GetInt(models.ConfigLogRetentionDays, 30))
	assert.False(t, s.GetBool(models.ConfigCostReportEnabled, false))
}

func TestSystemConfigService_BatchUpdate(t *testing.T) {
	s := newTestSystemConfig(t)

	require.NoError(t, s.BatchUpdate(map[string]string{
		models.ConfigLogRetentionDays:  "7",
		models.ConfigCostReportEnabled: "false",
	}))
	assert.Equal(t, 7, s.GetInt(models.ConfigLogRetentionDays, 0))
	assert.False(t, s.GetBool(models.ConfigCostReportEnabled, true))

	err := s.BatchUpdate(map[string]string{
		models.ConfigCostReportTime:   "01:00",
		models.ConfigLogRetentionDays: "a week",
	})
	require.Error(t, err)
	assert.Equal(t, 7, s.GetInt(models.ConfigLogRetentionDays, 0))
	assert.Equal(t, "00:05", s.GetWithDefault(models.ConfigCostReportTime, ""), "batch is all or nothing")

	assert.ErrorIs(t, s.BatchUpdate(map[string]string{"nope": "1"}), ErrUnknownConfigKey)
}

func TestCheckConfigValue(t *testing.T) {
	tests := []struct {
		typ     string
		value   string
		wantErr bool
	}{
		{"int", "30", false},
		{"int", "3.5", true},
		{"bool", "true", false},
		{"bool", "yes", true},
		{"decimal", "1.5", false},
		{"decimal", "1,5", true},
		{"string", "anything", false},
	}

	for _, tt := range tests {
		err := checkConfigValue(tt.typ, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkConfigValue(%q, %q) error = %v, wantErr %v", tt.typ, tt.value, err, tt.wantErr)
		}
	}
}
