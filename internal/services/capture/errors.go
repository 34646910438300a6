package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/vista/internal/models"
)

// NavigationTimeoutError is the hard navigation timeout
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s timed out after %s", e.URL, e.Timeout)
}

func (e *NavigationTimeoutError) Unwrap() error { return e.Err }

// NavigationError is any other navigation failure, such as an unreachable site
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// TargetNotFoundError means no locator matched a visible element
type TargetNotFoundError struct {
	Locators []models.Locator
	Err      error // last locator evaluation error, if any
}

func (e *TargetNotFoundError) Error() string {
	names := make([]string, len(e.Locators))
	for i, l := range e.Locators {
		names[i] = l.String()
	}
	msg := fmt.Sprintf("target not found: no visible match for [%s]", strings.Join(names, ", "))
	if e.Err != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.Err)
	}
	return msg
}

func (e *TargetNotFoundError) Unwrap() error { return e.Err }

// AmbiguousTargetError means the winning locator matched more than one element
type AmbiguousTargetError struct {
	Locator models.Locator
	Matches int
}

func (e *AmbiguousTargetError) Error() string {
	return fmt.Sprintf("ambiguous target: %s matched %d visible elements", e.Locator, e.Matches)
}

// CaptureError is a render or snapshot failure
type CaptureError struct {
	Stage string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed during %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
