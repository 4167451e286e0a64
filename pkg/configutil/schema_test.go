package configutil

import (
	"strings"
	"testing"
)

func TestValidateSettingsAcceptsKnownKeys(t *testing.T) {
	schema := Schema{
		Required: []string{"source_language", "target_language"},
		Optional: []string{"voice_id"},
	}
	input := map[string]any{
		"source_language": "zh",
		"TargetLanguage":  "en",
		"voice-id":        "v1",
	}
	if err := ValidateSettings(input, schema); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}
}

func TestValidateSettingsReportsMissingRequired(t *testing.T) {
	schema := Schema{Required: []string{"model", "source_language"}}
	err := ValidateSettings(map[string]any{"model": "m"}, schema)
	if err == nil || !strings.Contains(err.Error(), "missing: source_language") {
		t.Fatalf("expected missing source_language, got %v", err)
	}
}

func TestValidateSettingsTreatsBlankRequiredAsMissing(t *testing.T) {
	schema := Schema{Required: []string{"model"}}
	err := ValidateSettings(map[string]any{"model": "  "}, schema)
	if err == nil || !strings.Contains(err.Error(), "missing: model") {
		t.Fatalf("blank required value must count as missing, got %v", err)
	}
}

func TestValidateSettingsRejectsUnknownKeys(t *testing.T) {
	schema := Schema{Required: []string{"model"}, Optional: []string{"voice"}}
	err := ValidateSettings(map[string]any{"model": "m", "voixce": "alloy"}, schema)
	if err == nil || !strings.Contains(err.Error(), "unknown: voixce") {
		t.Fatalf("typoed key must be rejected, got %v", err)
	}

	loose := Schema{Required: []string{"model"}, AllowUnknown: true}
	if err := ValidateSettings(map[string]any{"model": "m", "extra": 1}, loose); err != nil {
		t.Fatalf("AllowUnknown must pass extra keys, got %v", err)
	}
}
