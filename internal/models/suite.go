package models

// Suite is a declared set of visual tests and the variants they run under.
// Suites are loaded from TOML or YAML files.
type Suite struct {
	Name     string     `json:"name" toml:"name" yaml:"name" validate:"required"`
	Path     string     `json:"path" toml:"-" yaml:"-"`
	BaseURL  string     `json:"base_url" toml:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Variants []Variant  `json:"variants" toml:"variants" yaml:"variants" validate:"required,min=1,dive"`
	Tests    []TestCase `json:"tests" toml:"tests" yaml:"tests" validate:"required,min=1,dive"`
}

// TestCase declares one captured image.
type TestCase struct {
	Name     string    `json:"name" toml:"name" yaml:"name" validate:"required"`
	Path     string    `json:"path" toml:"path" yaml:"path"`
	Image    string    `json:"image,omitempty" toml:"image" yaml:"image"`
	Locators []Locator `json:"locators,omitempty" toml:"locators" yaml:"locators" validate:"dive"`
	FullPage bool      `json:"full_page" toml:"full_page" yaml:"full_page"`
	Variants []string  `json:"variants,omitempty" toml:"variants" yaml:"variants"`

	WaitForNetworkIdle *bool `json:"wait_for_network_idle,omitempty" toml:"wait_for_network_idle" yaml:"wait_for_network_idle"`
	WaitForFonts       *bool `json:"wait_for_fonts,omitempty" toml:"wait_for_fonts" yaml:"wait_for_fonts"`
	WaitForImages      *bool `json:"wait_for_images,omitempty" toml:"wait_for_images" yaml:"wait_for_images"`
	ScrollIntoView     bool  `json:"scroll_into_view" toml:"scroll_into_view" yaml:"scroll_into_view"`

	Masks     []Locator          `json:"masks,omitempty" toml:"masks" yaml:"masks" validate:"dive"`
	MaskRects []Rect             `json:"mask_rects,omitempty" toml:"mask_rects" yaml:"mask_rects"`
	Threshold *ThresholdOverride `json:"threshold,omitempty" toml:"threshold" yaml:"threshold"`
}

// ThresholdOverride replaces individual comparison thresholds for one test.
type ThresholdOverride struct {
	Pixel         *float64 `json:"pixel,omitempty" toml:"pixel" yaml:"pixel" validate:"omitempty,gte=0,lte=1"`
	MaxDiffPixels *int     `json:"max_diff_pixels,omitempty" toml:"max_diff_pixels" yaml:"max_diff_pixels" validate:"omitempty,gte=0"`
	MaxDiffRatio  *float64 `json:"max_diff_ratio,omitempty" toml:"max_diff_ratio" yaml:"max_diff_ratio" validate:"omitempty,gte=0,lte=1"`
}
