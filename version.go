package main

import (
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/fzft/go-wake-event/system"
)

var (
	version   string = "0.1.0"
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildDate string = "unknown"
)

// Version describes the binary, e.g. "wakeeventd v0.1.0 (git:1a2b3c-dirty) backend=eventfd".
func Version() string {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Sprintf("wakeeventd %s (invalid version: %v)", version, err)
	}

	out := "wakeeventd v" + v.String()
	// Add git commit and working tree status when available
	if gitSHA1 != "" && gitSHA1 != "unknown" {
		out = fmt.Sprintf("%s (git:%s", out, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			out += "-dirty"
		}
		out += ")"
	}
	if buildDate != "unknown" {
		out += " built " + buildDate
	}
	return out + " backend=" + system.DefaultBackend.String()
}
