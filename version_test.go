package main

import (
	"testing"

	"github.com/fzft/go-wake-event/system"
	"github.com/stretchr/testify/assert"
)

func setBuildInfo(t *testing.T, v, sha, dirty, date string) {
	t.Helper()
	old := [4]string{version, gitSHA1, gitDirty, buildDate}
	version, gitSHA1, gitDirty, buildDate = v, sha, dirty, date
	t.Cleanup(func() {
		version, gitSHA1, gitDirty, buildDate = old[0], old[1], old[2], old[3]
	})
}

func TestVersion(t *testing.T) {
	backend := " backend=" + system.DefaultBackend.String()

	tests := []struct {
		name                string
		v, sha, dirty, date string
		want                string
	}{
		{"plain", "0.1.0", "unknown", "unknown", "unknown", "wakeeventd v0.1.0"},
		{"leading v", "v1.2.3", "unknown", "unknown", "unknown", "wakeeventd v1.2.3"},
		{"git clean", "0.1.0", "1a2b3c", "0", "unknown", "wakeeventd v0.1.0 (git:1a2b3c)"},
		{"git dirty", "0.1.0", "1a2b3c", "1", "2026-10-18", "wakeeventd v0.1.0 (git:1a2b3c-dirty) built 2026-10-18"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBuildInfo(t, tt.v, tt.sha, tt.dirty, tt.date)
			assert.Equal(t, tt.want+backend, Version())
		})
	}
}

func TestVersionInvalid(t *testing.T) {
	setBuildInfo(t, "not-a-version", "unknown", "unknown", "unknown")
	assert.Contains(t, Version(), "wakeeventd not-a-version (invalid version:")
}
