package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	err := Validate(Default(), 4096)
	assert.NoError(t, err)
}

func TestValidateCollectsAllViolations(t *testing.T) {
	c := Default()
	c.LowerFreeLimit = 80
	c.UpperFreeLimit = 10
	c.Quiet = true
	c.Verbose = true
	c.MinSwapsize = 100
	c.MaxSwapsize = 50

	err := Validate(c, 4096)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "lower_freelimit")
	assert.Contains(t, msg, "quiet and verbose")
	assert.Contains(t, msg, "min_swapsize")
}

func TestValidateRejectsRelativeSwapPath(t *testing.T) {
	c := Default()
	c.SwapPath = "relative/path"
	assert.Error(t, Validate(c, 4096))
}

func TestValidateRejectsMinSwapsizeBelowTenPages(t *testing.T) {
	c := Default()
	c.MinSwapsize = 9000
	err := Validate(c, 4096)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10 pages")
}

func TestParseKeyValueGrammar(t *testing.T) {
	body := `
# a comment line
buffer_elasticity = 40
swappath = "/srv/swap"
quiet
cooldown=120 # trailing comment
`
	cfg, err := parseFrom(strings.NewReader(body), Default())
	require.NoError(t, err)
	assert.Equal(t, int64(40), cfg.BufferElasticity)
	assert.Equal(t, "/srv/swap", cfg.SwapPath)
	assert.True(t, cfg.Quiet)
	assert.Equal(t, int64(120), cfg.CooldownSeconds)
}

func TestParseKeyValueAcceptsSuffixedSizes(t *testing.T) {
	cfg, err := parseFrom(strings.NewReader("max_swapsize = 2g\nmin_swapsize = 64m\n"), Default())
	require.NoError(t, err)
	assert.Equal(t, int64(2)<<30, cfg.MaxSwapsize)
	assert.Equal(t, int64(64)<<20, cfg.MinSwapsize)
}

func TestParseKeyValueRejectsUnknownKey(t *testing.T) {
	_, err := parseFrom(strings.NewReader("bogus_option = 1\n"), Default())
	assert.Error(t, err)
}

func TestParseHuJSONAcceptsCommentsAndTrailingCommas(t *testing.T) {
	body := `{
  // override the defaults
  "freetarget": "35",
  "swappath": "/srv/swap2",
  "paranoid": true,
}`
	cfg, err := parseFrom(strings.NewReader(body), Default())
	require.NoError(t, err)
	assert.Equal(t, int64(35), cfg.FreeTarget)
	assert.Equal(t, "/srv/swap2", cfg.SwapPath)
	assert.True(t, cfg.Paranoid)
}
