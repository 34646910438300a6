package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/vista/internal/models"
)

// NewRunContext builds the run metadata from config and the CI environment.
// Branch and commit come from the usual CI variables when present.
func NewRunContext(config *Config, mode models.RunMode, now time.Time) models.RunContext {
	return models.RunContext{
		RunID:       NewRunID(now),
		Environment: config.Environment,
		Branch:      firstEnv("VISTA_BRANCH", "GITHUB_HEAD_REF", "GITHUB_REF_NAME", "CI_COMMIT_REF_NAME", "BRANCH_NAME"),
		Commit:      firstEnv("VISTA_COMMIT", "GITHUB_SHA", "CI_COMMIT_SHA", "GIT_COMMIT"),
		BaseURL:     config.Run.BaseURL,
		Mode:        mode,
		StartedAt:   now.UTC(),
		Workers:     1,
		Retries:     config.Run.Retries,
		CI:          isCI(),
		Version:     GetVersion(),
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func isCI() bool {
	v := os.Getenv("CI")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}
