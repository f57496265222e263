package main

import (
	"strings"
	"testing"

	"tokopos/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		ok     bool
	}{
		{"empty", "", false},
		{"short", "too-short", false},
		{"minimum length", strings.Repeat("a", 32), true},
		{"long", strings.Repeat("x", 64), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(config.Config{AuthSecret: tc.secret})
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
