package common

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a sortable run identifier
// Format: run_<yyyymmdd-hhmmss>_<8 hex chars>
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return "run_" + now.UTC().Format("20060102-150405") + "_" + suffix
}
