package models

import (
	"fmt"
	"image"
	"time"
)

// LocatorKind selects how a Locator value is interpreted.
type LocatorKind string

const (
	LocatorCSS   LocatorKind = "css"
	LocatorXPath LocatorKind = "xpath"
)

// Locator is one candidate way of finding an element. Targets carry an
// ordered list of locators; the first locator that matches wins.
type Locator struct {
	Kind  LocatorKind `json:"kind,omitempty" toml:"kind" yaml:"kind" validate:"omitempty,oneof=css xpath"`
	Value string      `json:"value" toml:"value" yaml:"value" validate:"required"`
}

// CSS is shorthand for a CSS selector locator.
func CSS(selector string) Locator {
	return Locator{Kind: LocatorCSS, Value: selector}
}

// XPath is shorthand for an XPath locator.
func XPath(expr string) Locator {
	return Locator{Kind: LocatorXPath, Value: expr}
}

// KindOrDefault returns the locator kind, defaulting to CSS.
func (l Locator) KindOrDefault() LocatorKind {
	if l.Kind == "" {
		return LocatorCSS
	}
	return l.Kind
}

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.KindOrDefault(), l.Value)
}

// Target is what a capture points at: a URL plus either the whole page or a
// single element resolved through Locators.
type Target struct {
	URL      string    `json:"url"`
	Locators []Locator `json:"locators,omitempty"`
	FullPage bool      `json:"full_page"`
}

// IsElement reports whether the target is bounded by an element.
func (t Target) IsElement() bool {
	return len(t.Locators) > 0
}

// CaptureOptions control readiness waits, masking and viewport for one capture.
type CaptureOptions struct {
	WaitForNetworkIdle bool      `json:"wait_for_network_idle"`
	WaitForFonts       bool      `json:"wait_for_fonts"`
	WaitForImages      bool      `json:"wait_for_images"`
	ScrollIntoView     bool      `json:"scroll_into_view"`
	MaskSelectors      []Locator `json:"mask_selectors,omitempty"`
	MaskRects          []Rect    `json:"mask_rects,omitempty"`
	Viewport           Viewport  `json:"viewport"`
}

// WaitResult is the tri-state outcome of a soft readiness wait.
type WaitResult string

const (
	WaitMet           WaitResult = "met"
	WaitTimedOut      WaitResult = "timed-out"
	WaitNotApplicable WaitResult = "not-applicable"
)

// WaitSignal names a readiness wait.
type WaitSignal string

const (
	SignalNetworkIdle WaitSignal = "network-idle"
	SignalFonts       WaitSignal = "fonts"
	SignalImages      WaitSignal = "images"
	SignalSettle      WaitSignal = "settle"
	SignalTarget      WaitSignal = "target"
)

// WaitReport records one readiness wait.
type WaitReport struct {
	Signal  WaitSignal    `json:"signal"`
	Result  WaitResult    `json:"result"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// Degraded reports whether the wait ended without its signal being met.
func (w WaitReport) Degraded() bool {
	return w.Result == WaitTimedOut
}

// ConsoleEntry is one console message or uncaught page error observed while a
// capture was in progress.
type ConsoleEntry struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Capture is a freshly rendered bitmap for one key. It is transient: consumed
// by the differ and then dropped or kept as a failure artifact.
type Capture struct {
	Key        Key            `json:"key"`
	Image      *image.RGBA    `json:"-"`
	Masks      []Rect         `json:"masks,omitempty"`
	Waits      []WaitReport   `json:"waits,omitempty"`
	Console    []ConsoleEntry `json:"console,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
}
