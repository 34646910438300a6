package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/models"
)

const homeTOML = `
name = "home"

[[variants]]
name = "desktop"
viewport = { width = 1280, height = 800 }

[[variants]]
name = "mobile"
browser = "chromium"
viewport = { width = 390, height = 844, device_scale_factor = 3, mobile = true }

[[tests]]
name = "hero"
path = "/"
locators = [{ value = "[data-testid=hero]" }, { kind = "xpath", value = "//section[1]" }]
masks = [{ value = ".clock" }]
wait_for_network_idle = false

[[tests]]
name = "footer"
path = "about?tab=team"
full_page = true
variants = ["mobile"]
threshold = { max_diff_pixels = 100 }
`

const homeYAML = `
name: home
base_url: https://shop.example.com/app
variants:
  - name: desktop
    viewport: {width: 1280, height: 800}
tests:
  - name: cart
    path: cart
    image: cart-summary
    locators:
      - value: "#cart"
    mask_rects:
      - {x: 0, y: 0, width: 100, height: 20}
`

func writeSuite(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := writeSuite(t, dir, "home.toml", homeTOML)

	s, err := Load(dir, path)
	require.NoError(t, err)
	assert.Equal(t, "home", s.Name)
	assert.Equal(t, "home.toml", s.Path)
	require.Len(t, s.Variants, 2)
	assert.Equal(t, "chromium", s.Variants[0].Browser)
	assert.Equal(t, 3.0, s.Variants[1].Viewport.DeviceScaleFactor)

	hero := s.Tests[0]
	assert.Equal(t, "hero", hero.Image)
	require.Len(t, hero.Locators, 2)
	assert.Equal(t, models.LocatorCSS, hero.Locators[0].Kind)
	assert.Equal(t, models.LocatorXPath, hero.Locators[1].Kind)
	require.NotNil(t, hero.WaitForNetworkIdle)
	assert.False(t, *hero.WaitForNetworkIdle)

	footer := s.Tests[1]
	require.NotNil(t, footer.Threshold)
	require.NotNil(t, footer.Threshold.MaxDiffPixels)
	assert.Equal(t, 100, *footer.Threshold.MaxDiffPixels)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeSuite(t, dir, "home.yaml", homeYAML)

	s, err := Load(dir, path)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/app", s.BaseURL)
	require.Len(t, s.Tests, 1)
	assert.Equal(t, "cart-summary", s.Tests[0].Image)
	assert.Equal(t, []models.Rect{{X: 0, Y: 0, Width: 100, Height: 20}}, s.Tests[0].MaskRects)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		errMsg  string
	}{
		{"unknown extension", "suite.json", `{}`, "unsupported suite format"},
		{"bad toml", "bad.toml", "name = ", "failed to parse"},
		{"no variants", "novariants.toml", "name = \"x\"\n[[tests]]\nname = \"a\"\n", "Variants"},
		{"no tests", "notests.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n", "Tests"},
		{"bad locator kind", "kind.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n[[tests]]\nname = \"a\"\nlocators = [{ kind = \"id\", value = \"x\" }]\n", "Kind"},
		{"unknown variant", "variant.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n[[tests]]\nname = \"a\"\nvariants = [\"tablet\"]\n", "unknown variant"},
		{"duplicate variant", "dupvariant.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n[[variants]]\nname = \"d\"\n[[tests]]\nname = \"a\"\n", "duplicate variant"},
		{"variant names that collide on disk", "dupvariantid.toml", "name = \"x\"\n[[variants]]\nname = \"Desktop Wide\"\n[[variants]]\nname = \"desktop-wide\"\n[[tests]]\nname = \"a\"\n", "duplicate variant"},
		{"test names that collide on disk", "dupimageid.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n[[tests]]\nname = \"Hero Banner\"\n[[tests]]\nname = \"hero-banner\"\n", "duplicate test image"},
		{"duplicate image", "dupimage.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n[[tests]]\nname = \"a\"\n[[tests]]\nname = \"a\"\n", "duplicate test image"},
		{"full page with locators", "fullpage.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n[[tests]]\nname = \"a\"\nfull_page = true\nlocators = [{ value = \".x\" }]\n", "full_page"},
		{"threshold out of range", "threshold.toml", "name = \"x\"\n[[variants]]\nname = \"d\"\n[[tests]]\nname = \"a\"\nthreshold = { pixel = 2.0 }\n", "Pixel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(dir, writeSuite(t, dir, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadAll_DirectoryInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "b.toml", homeTOML)
	writeSuite(t, dir, "a.yaml", homeYAML)
	writeSuite(t, dir, "README.md", "# not a suite")

	suites, err := LoadAll(dir, []string{dir}, arbor.NewLogger())
	require.NoError(t, err)
	require.Len(t, suites, 2)
	assert.Equal(t, "a.yaml", suites[0].Path)
	assert.Equal(t, "b.toml", suites[1].Path)

	_, err = LoadAll(dir, []string{filepath.Join(dir, "missing.toml")}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestLoad_SuitePathIndependentOfSpelling(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "suites"), 0755))
	abs := writeSuite(t, filepath.Join(root, "suites"), "home.toml", homeTOML)
	t.Chdir(root)

	fromAbs, err := Load(root, abs)
	require.NoError(t, err)
	fromRel, err := Load("", "suites/home.toml")
	require.NoError(t, err)
	fromDotted, err := Load(".", "./suites/../suites/home.toml")
	require.NoError(t, err)

	assert.Equal(t, "suites/home.toml", fromAbs.Path)
	assert.Equal(t, fromAbs.Path, fromRel.Path)
	assert.Equal(t, fromAbs.Path, fromDotted.Path)

	jobsAbs, err := Expand([]*models.Suite{fromAbs}, "https://example.com")
	require.NoError(t, err)
	jobsRel, err := Expand([]*models.Suite{fromRel}, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, jobsAbs[0].Key, jobsRel[0].Key)
}

func TestLoad_OutsideRootRejected(t *testing.T) {
	outside := writeSuite(t, t.TempDir(), "home.toml", homeTOML)

	_, err := Load(t.TempDir(), outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the suites root")
}

func TestExpand_OrderAndOptions(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, writeSuite(t, dir, "home.toml", homeTOML))
	require.NoError(t, err)

	jobs, err := Expand([]*models.Suite{s}, "https://example.com")
	require.NoError(t, err)

	// hero x (desktop, mobile), footer x mobile
	require.Len(t, jobs, 3)
	assert.Equal(t, "hero", jobs[0].Key.Test)
	assert.Equal(t, "chromium-desktop", jobs[0].Key.Variant)
	assert.Equal(t, "hero", jobs[1].Key.Test)
	assert.Equal(t, "chromium-mobile", jobs[1].Key.Variant)
	assert.Equal(t, "footer", jobs[2].Key.Test)
	assert.Equal(t, "chromium-mobile", jobs[2].Key.Variant)

	hero := jobs[0]
	assert.Equal(t, s.Path, hero.Key.Suite)
	assert.Equal(t, "https://example.com/", hero.Target.URL)
	assert.True(t, hero.Target.IsElement())
	assert.False(t, hero.Options.WaitForNetworkIdle)
	assert.True(t, hero.Options.WaitForFonts)
	assert.True(t, hero.Options.WaitForImages)
	assert.Equal(t, []models.Locator{models.CSS(".clock")}, hero.Options.MaskSelectors)
	assert.Equal(t, 1280, hero.Options.Viewport.Width)

	footer := jobs[2]
	assert.Equal(t, "https://example.com/about?tab=team", footer.Target.URL)
	assert.True(t, footer.Target.FullPage)
	require.NotNil(t, footer.Threshold)
	assert.True(t, footer.Options.Viewport.Mobile)

	again, err := Expand([]*models.Suite{s}, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, jobs, again)
}

func TestExpand_SuiteBaseURLWins(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, writeSuite(t, dir, "home.yaml", homeYAML))
	require.NoError(t, err)

	jobs, err := Expand([]*models.Suite{s}, "https://ignored.example.com")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "https://shop.example.com/app/cart", jobs[0].Target.URL)
	assert.Equal(t, "cart-summary", jobs[0].Key.Image)
}

func TestExpand_RelativePathNeedsBaseURL(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, writeSuite(t, dir, "home.toml", homeTOML))
	require.NoError(t, err)

	_, err = Expand([]*models.Suite{s}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a base_url")
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"https://example.com", "/", "https://example.com/"},
		{"https://example.com/app", "/login", "https://example.com/app/login"},
		{"https://example.com/app/", "login", "https://example.com/app/login"},
		{"https://example.com", "https://other.example.com/x", "https://other.example.com/x"},
		{"", "https://other.example.com/x", "https://other.example.com/x"},
		{"https://example.com/app", "/?q=1", "https://example.com/app/?q=1"},
	}
	for _, tt := range tests {
		got, err := resolveURL(tt.base, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}
