package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbd/device/dcd"
)

func TestExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "examples", "scenarios", "*"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := Load(path)
			require.NoError(t, err)
			res, err := Run(s)
			require.NoError(t, err)
			assert.Equal(t, len(s.Steps), res.Steps)
			assert.NotEmpty(t, res.Trace)
		})
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"a.yaml", FormatYAML, false},
		{"dir/b.YML", FormatYAML, false},
		{"c.toml", FormatTOML, false},
		{"d.json", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatOf(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidScenario)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormatsAgree(t *testing.T) {
	yamlSrc := []byte(`
name: agree
config:
  variant: nuc126
  ep0_size: 32
steps:
  - op: open
    ep: 0x81
    type: interrupt
    size: 8
  - op: in
    ep: 1
    data1: false
    length: 0
`)
	tomlSrc := []byte(`
name = "agree"

[config]
variant = "nuc126"
ep0_size = 32

[[steps]]
op = "open"
ep = 0x81
type = "interrupt"
size = 8

[[steps]]
op = "in"
ep = 1
data1 = false
length = 0
`)
	fromYAML, err := Parse(yamlSrc, FormatYAML)
	require.NoError(t, err)
	fromTOML, err := Parse(tomlSrc, FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, fromYAML, fromTOML)

	require.Len(t, fromYAML.Steps, 2)
	assert.Equal(t, uint8(0x81), fromYAML.Steps[0].endpoint())
	require.NotNil(t, fromYAML.Steps[1].Data1)
	assert.False(t, *fromYAML.Steps[1].Data1)

	cfg, err := fromYAML.Config.Controller()
	require.NoError(t, err)
	assert.Equal(t, dcd.Config{Variant: dcd.VariantNUC126, EP0Size: 32}, cfg)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", "steps: [\n"},
		{"unknown op", "steps:\n  - op: jump\n"},
		{"unknown error", "steps:\n  - op: reset\n    error: oops\n"},
		{"bad hex", "steps:\n  - op: out\n    ep: 1\n    data: \"zz\"\n"},
		{"short setup", "steps:\n  - op: setup\n    data: \"80 06\"\n"},
		{"missing ep", "steps:\n  - op: transfer\n    length: 4\n"},
		{"unknown type", "steps:\n  - op: open\n    ep: 1\n    type: fast\n"},
		{"unknown event", "steps:\n  - op: expect_event\n    event: boom\n"},
		{"unknown state", "steps:\n  - op: expect_state\n    state: asleep\n"},
		{"unknown variant", "config:\n  variant: nuc999\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), FormatYAML)
			assert.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	ep := 0x02
	n := 16
	s := &Scenario{
		Name: "round-trip",
		Steps: []Step{
			{Op: "open", EP: &ep, Type: "bulk", Size: 64},
			{Op: "transfer", EP: &ep, Length: &n},
		},
	}
	for _, format := range []Format{FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Marshal(s, format)
			require.NoError(t, err)
			got, err := Parse(data, format)
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}
}

func TestLoadNamesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unnamed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - op: reset\n"), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "unnamed", s.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
