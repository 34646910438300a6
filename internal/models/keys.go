package models

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Variant is a (browser, viewport/device) combination. Each variant owns an
// independent baseline per test key.
type Variant struct {
	Name     string   `json:"name" toml:"name" yaml:"name" validate:"required"`
	Browser  string   `json:"browser" toml:"browser" yaml:"browser"`
	Viewport Viewport `json:"viewport" toml:"viewport" yaml:"viewport"`
}

// ID returns the filesystem-safe variant identifier, e.g. "chromium-mobile".
func (v Variant) ID() string {
	browser := v.Browser
	if browser == "" {
		browser = "chromium"
	}
	return sanitizeSegment(browser + "-" + v.Name)
}

// Key identifies one baseline image: the suite file it was declared in, the
// test name, the image (region) name and the variant it was captured under.
type Key struct {
	Suite   string `json:"suite"`
	Test    string `json:"test"`
	Image   string `json:"image"`
	Variant string `json:"variant"`
}

// String renders the key as "test/image@variant", prefixed with the suite
// when one is set.
func (k Key) String() string {
	s := k.Test
	if k.Image != "" && k.Image != k.Test {
		s += "/" + k.Image
	}
	s += "@" + k.Variant
	if k.Suite != "" {
		s = k.Suite + ":" + s
	}
	return s
}

// ParseKey parses the String form of a key. A missing image defaults to the
// test name.
func ParseKey(s string) (Key, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return Key{}, fmt.Errorf("invalid key %q: missing @variant", s)
	}
	k := Key{Variant: s[at+1:]}
	rest := s[:at]
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		k.Suite, rest = rest[:i], rest[i+1:]
	}
	k.Test, k.Image, _ = strings.Cut(rest, "/")
	if k.Image == "" {
		k.Image = k.Test
	}
	if err := k.Validate(); err != nil {
		return Key{}, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return k, nil
}

// Slug returns a single filename-safe token for the key. It carries every
// storage path segment, so two keys share a slug only when they share a
// baseline file.
func (k Key) Slug() string {
	segs := k.PathSegments()
	last := len(segs) - 1
	segs[last] = strings.TrimSuffix(segs[last], ".png")
	return strings.Join(segs, "__")
}

// PathSegments returns the deterministic storage path for the key as
// variant / suite path / test / image.png.
func (k Key) PathSegments() []string {
	segs := []string{sanitizeSegment(k.Variant)}
	for _, s := range suiteSegments(k.Suite) {
		segs = append(segs, sanitizeSegment(s))
	}
	segs = append(segs, sanitizeSegment(k.Test), sanitizeSegment(k.imageName())+".png")
	return segs
}

func suiteSegments(suite string) []string {
	suite = strings.Trim(path.Clean(strings.ReplaceAll(suite, "\\", "/")), "/")
	if suite == "" || suite == "." {
		return nil
	}
	return strings.Split(suite, "/")
}

// Validate reports whether the key has the fields needed to address a baseline.
// Suites are relative slash paths; absolute paths and ".." segments are rejected.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Test) == "" {
		return fmt.Errorf("baseline key requires a test name")
	}
	if strings.TrimSpace(k.Variant) == "" {
		return fmt.Errorf("baseline key %q requires a variant", k.Test)
	}
	if k.Suite != "" {
		slashed := strings.ReplaceAll(k.Suite, "\\", "/")
		if path.IsAbs(slashed) {
			return fmt.Errorf("baseline key %q: suite path must be relative", k.Test)
		}
		for _, seg := range suiteSegments(slashed) {
			if seg == ".." {
				return fmt.Errorf("baseline key %q: suite path %q leaves the suites root", k.Test, k.Suite)
			}
		}
	}
	return nil
}

// SegmentName returns the form a name takes in baseline paths. Names with
// equal segment forms address the same baseline.
func SegmentName(name string) string {
	return sanitizeSegment(name)
}

func (k Key) imageName() string {
	if k.Image == "" {
		return k.Test
	}
	return k.Image
}

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeSegment converts a name into a safe single path segment.
func sanitizeSegment(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = unsafeSegment.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "_"
	}
	return s
}
