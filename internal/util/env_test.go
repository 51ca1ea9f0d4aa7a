package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("ASKFORHELP_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("ASKFORHELP_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v", tt.value, tt.def, got)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Hour},
		{"90m", 90 * time.Minute},
		{"soon", time.Hour},
		{"-5s", time.Hour},
	}
	for _, tt := range tests {
		t.Setenv("ASKFORHELP_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("ASKFORHELP_TEST_DURATION", time.Hour); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseProbabilityEnv(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 0.2},
		{"0.5", 0.5},
		{"1", 1},
		{"1.5", 0.2},
		{"x", 0.2},
	}
	for _, tt := range tests {
		t.Setenv("ASKFORHELP_TEST_PROBABILITY", tt.value)
		if got := ParseProbabilityEnv("ASKFORHELP_TEST_PROBABILITY", 0.2); got != tt.want {
			t.Errorf("ParseProbabilityEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
