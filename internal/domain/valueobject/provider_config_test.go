package valueobject

import "testing"

func TestParseProviderKind(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderKind
	}{
		{"anthropic", ProviderAnthropic},
		{"Anthropic ", ProviderAnthropic},
		{"openrouter", ProviderOpenRouter},
		{"openai", ProviderOpenAI},
		{"deepseek", ProviderOpenAI},
		{"", ProviderOpenAI},
	}
	for _, tt := range tests {
		if got := ParseProviderKind(tt.in); got != tt.want {
			t.Errorf("ParseProviderKind(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCachingEnabledDefaultsOn(t *testing.T) {
	var cfg ProviderConfig
	if !cfg.CachingEnabled() {
		t.Error("caching should default to enabled")
	}
	off := false
	cfg.EnableCaching = &off
	if cfg.CachingEnabled() {
		t.Error("explicit false should disable caching")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := ProviderConfig{Model: "m", MaxTokens: 100}.WithDefaults()
	if cfg.MaxTokens != 100 {
		t.Errorf("MaxTokens overwritten: %d", cfg.MaxTokens)
	}
	if cfg.ContextWindow != DefaultContextWindow {
		t.Errorf("ContextWindow = %d", cfg.ContextWindow)
	}
	if err := (ProviderConfig{Name: "x"}).Validate(); err == nil {
		t.Error("expected missing model error")
	}
}

func TestWithDefaults_Temperature(t *testing.T) {
	cfg := ProviderConfig{Model: "m"}.WithDefaults()
	if cfg.Temperature == nil || *cfg.Temperature != DefaultTemperature {
		t.Errorf("unset temperature = %v, want %v", cfg.Temperature, DefaultTemperature)
	}

	cfg = ProviderConfig{Model: "m", Temperature: Float64(0)}.WithDefaults()
	if *cfg.Temperature != 0 {
		t.Errorf("explicit zero temperature replaced with %v", *cfg.Temperature)
	}

	if err := (ProviderConfig{Model: "m", Temperature: Float64(-0.5)}).Validate(); err == nil {
		t.Error("expected negative temperature error")
	}
}
