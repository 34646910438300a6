package suite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/vista/internal/models"
)

// Job is one capture/compare unit: a key, where to capture it and how.
type Job struct {
	Key       models.Key
	Variant   models.Variant
	Target    models.Target
	Options   models.CaptureOptions
	Threshold *models.ThresholdOverride
}

// Expand turns suites into jobs. Order is suite order, then test order, then
// variant order as declared, so repeated runs execute identically.
func Expand(suites []*models.Suite, baseURL string) ([]Job, error) {
	var jobs []Job
	for _, s := range suites {
		base := s.BaseURL
		if base == "" {
			base = baseURL
		}

		for _, t := range s.Tests {
			target, err := resolveURL(base, t.Path)
			if err != nil {
				return nil, fmt.Errorf("suite %s test %q: %w", s.Name, t.Name, err)
			}

			for _, v := range variantsFor(s, t) {
				jobs = append(jobs, Job{
					Key: models.Key{
						Suite:   s.Path,
						Test:    t.Name,
						Image:   t.Image,
						Variant: v.ID(),
					},
					Variant: v,
					Target: models.Target{
						URL:      target,
						Locators: t.Locators,
						FullPage: t.FullPage,
					},
					Options: models.CaptureOptions{
						WaitForNetworkIdle: boolOr(t.WaitForNetworkIdle, true),
						WaitForFonts:       boolOr(t.WaitForFonts, true),
						WaitForImages:      boolOr(t.WaitForImages, true),
						ScrollIntoView:     t.ScrollIntoView,
						MaskSelectors:      t.Masks,
						MaskRects:          t.MaskRects,
						Viewport:           v.Viewport,
					},
					Threshold: t.Threshold,
				})
			}
		}
	}
	return jobs, nil
}

func variantsFor(s *models.Suite, t models.TestCase) []models.Variant {
	if len(t.Variants) == 0 {
		return s.Variants
	}
	wanted := map[string]bool{}
	for _, name := range t.Variants {
		wanted[name] = true
	}
	var out []models.Variant
	for _, v := range s.Variants {
		if wanted[v.Name] {
			out = append(out, v)
		}
	}
	return out
}

// resolveURL joins a test path onto the base URL. Absolute test URLs are used as is.
func resolveURL(base, path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative path %q requires a base_url", path)
	}

	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", fmt.Errorf("invalid base_url %q", base)
	}
	// Treat the base as a directory so "/app" + "login" gives "/app/login"
	if !strings.HasSuffix(b.Path, "/") {
		b.Path += "/"
	}
	if strings.HasPrefix(ref.Path, "/") {
		ref.Path = strings.TrimPrefix(ref.Path, "/")
		if ref.Path == "" && ref.RawQuery == "" && ref.Fragment == "" {
			return b.String(), nil
		}
	}
	return b.ResolveReference(ref).String(), nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
