// Package suite loads declared visual test suites and expands them into the
// ordered list of capture jobs a run executes.
package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/models"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads one suite file. The format follows the extension: .toml, .yaml or .yml.
// The suite path recorded in keys is relative to root (the working directory
// when root is empty); files outside root are rejected.
func Load(root, path string) (*models.Suite, error) {
	rel, err := relativeToRoot(root, path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite %s: %w", path, err)
	}

	var s models.Suite
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse suite %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse suite %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported suite format %q (want .toml, .yaml or .yml)", filepath.Ext(path))
	}

	s.Path = rel
	applyDefaults(&s)

	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("invalid suite %s: %w", path, err)
	}
	return &s, nil
}

// LoadAll loads every path against root. Directories are scanned
// (non-recursively) for suite files in name order.
func LoadAll(root string, paths []string, logger arbor.ILogger) ([]*models.Suite, error) {
	var suites []*models.Suite
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("suite path %s: %w", p, err)
		}
		if !info.IsDir() {
			s, err := Load(root, p)
			if err != nil {
				return nil, err
			}
			suites = append(suites, s)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read suite directory %s: %w", p, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			if entry.IsDir() || !isSuiteFile(entry.Name()) {
				continue
			}
			s, err := Load(root, filepath.Join(p, entry.Name()))
			if err != nil {
				return nil, err
			}
			suites = append(suites, s)
		}
	}

	if logger != nil {
		logger.Debug().Int("count", len(suites)).Msg("Suites loaded")
	}
	return suites, nil
}

func relativeToRoot(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("suites root %s: %w", root, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("suite path %s: %w", path, err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("suite %s is outside the suites root %s", path, absRoot)
	}
	return filepath.ToSlash(rel), nil
}

func isSuiteFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

func applyDefaults(s *models.Suite) {
	for i := range s.Variants {
		if s.Variants[i].Browser == "" {
			s.Variants[i].Browser = "chromium"
		}
	}
	for i := range s.Tests {
		t := &s.Tests[i]
		if t.Path == "" {
			t.Path = "/"
		}
		if t.Image == "" {
			t.Image = t.Name
		}
		for j := range t.Locators {
			if t.Locators[j].Kind == "" {
				t.Locators[j].Kind = models.LocatorCSS
			}
		}
		for j := range t.Masks {
			if t.Masks[j].Kind == "" {
				t.Masks[j].Kind = models.LocatorCSS
			}
		}
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express
func Validate(s *models.Suite) error {
	if err := validate.Struct(s); err != nil {
		return err
	}

	// Names are compared in their baseline path form; two names that
	// sanitize alike would share one baseline file.
	variants := map[string]bool{}
	variantIDs := map[string]string{}
	for _, v := range s.Variants {
		if variants[v.Name] {
			return fmt.Errorf("duplicate variant %q", v.Name)
		}
		id := v.ID()
		if prev, ok := variantIDs[id]; ok {
			return fmt.Errorf("duplicate variant %q (collides with %q as %s)", v.Name, prev, id)
		}
		variantIDs[id] = v.Name
		variants[v.Name] = true
	}

	images := map[string]string{}
	for _, t := range s.Tests {
		name := t.Name + "/" + t.Image
		id := models.SegmentName(t.Name) + "/" + models.SegmentName(t.Image)
		if prev, ok := images[id]; ok {
			return fmt.Errorf("duplicate test image %q (collides with %q as %s)", name, prev, id)
		}
		images[id] = name

		if len(t.Locators) > 0 && t.FullPage {
			return fmt.Errorf("test %q: full_page cannot be combined with locators", t.Name)
		}
		for _, name := range t.Variants {
			if !variants[name] {
				return fmt.Errorf("test %q references unknown variant %q", t.Name, name)
			}
		}
		for _, r := range t.MaskRects {
			if r.Empty() {
				return fmt.Errorf("test %q has an empty mask rectangle %s", t.Name, r)
			}
		}
	}
	return nil
}
