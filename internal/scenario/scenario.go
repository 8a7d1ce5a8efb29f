package scenario

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"

	"github.com/ardnew/usbd/device/dcd"
)

// Scenario is a scripted sequence of host and device actions run against a
// simulated controller.
type Scenario struct {
	Name        string `yaml:"name" toml:"name" json:"name"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Config      Config `yaml:"config,omitempty" toml:"config,omitempty" json:"config,omitempty"`
	Steps       []Step `yaml:"steps" toml:"steps" json:"steps"`
}

// Config selects the controller configuration. Zero fields take the
// controller defaults.
type Config struct {
	Variant    string `yaml:"variant,omitempty" toml:"variant,omitempty" json:"variant,omitempty"`
	BufferSize int    `yaml:"buffer_size,omitempty" toml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	EP0Size    int    `yaml:"ep0_size,omitempty" toml:"ep0_size,omitempty" json:"ep0_size,omitempty"`
	LPM        bool   `yaml:"lpm,omitempty" toml:"lpm,omitempty" json:"lpm,omitempty"`
}

// Controller returns the controller configuration.
func (c Config) Controller() (dcd.Config, error) {
	cfg := dcd.Config{
		BufferSize: c.BufferSize,
		EP0Size:    c.EP0Size,
		LPM:        c.LPM,
	}
	switch strings.ToLower(c.Variant) {
	case "", dcd.VariantNUC121:
		cfg.Variant = dcd.VariantNUC121
	case dcd.VariantNUC126:
		cfg.Variant = dcd.VariantNUC126
	default:
		return dcd.Config{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidScenario, c.Variant)
	}
	return cfg, nil
}

// Step is one action or expectation. Which fields apply depends on Op:
//
//	vbus            Value: 1 plugged, 0 unplugged
//	reset, suspend, resume
//	sof             Count: number of frames (default 1)
//	setup           Data: 8 request bytes; Device
//	open            EP, Type, Size
//	transfer        EP; IN: Data, or Length bytes of pattern; OUT: Length
//	stall, clear_stall
//	                EP
//	set_address     Value
//	set_config      Value
//	wakeup
//	in              EP, Device; optional Data and Data1 expectations
//	out             EP, Device, Data
//	expect_event    Event; optional EP, Length, Actual, Data
//	expect_none     no event left unconsumed
//	expect_address  Value
//	expect_state    State
//
// Error names the failure an action must produce (nak, stall, no_device,
// busy, ...); an action without Error must succeed.
type Step struct {
	Op     string `yaml:"op" toml:"op" json:"op"`
	EP     *int   `yaml:"ep,omitempty" toml:"ep,omitempty" json:"ep,omitempty"`
	Device int    `yaml:"device,omitempty" toml:"device,omitempty" json:"device,omitempty"`
	Type   string `yaml:"type,omitempty" toml:"type,omitempty" json:"type,omitempty"`
	Size   int    `yaml:"size,omitempty" toml:"size,omitempty" json:"size,omitempty"`
	Value  int    `yaml:"value,omitempty" toml:"value,omitempty" json:"value,omitempty"`
	Count  int    `yaml:"count,omitempty" toml:"count,omitempty" json:"count,omitempty"`
	Data   string `yaml:"data,omitempty" toml:"data,omitempty" json:"data,omitempty"`
	Event  string `yaml:"event,omitempty" toml:"event,omitempty" json:"event,omitempty"`
	State  string `yaml:"state,omitempty" toml:"state,omitempty" json:"state,omitempty"`
	Error  string `yaml:"error,omitempty" toml:"error,omitempty" json:"error,omitempty"`

	Length *int  `yaml:"length,omitempty" toml:"length,omitempty" json:"length,omitempty"`
	Actual *int  `yaml:"actual,omitempty" toml:"actual,omitempty" json:"actual,omitempty"`
	Data1  *bool `yaml:"data1,omitempty" toml:"data1,omitempty" json:"data1,omitempty"`
}

// Format is a scenario file encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the format implied by the file extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: unsupported file extension %q", ErrInvalidScenario, filepath.Ext(path))
	}
}

// Load reads a scenario file. The format follows the file extension.
func Load(path string) (*Scenario, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte, format Format) (*Scenario, error) {
	var s Scenario
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &s)
	case FormatTOML:
		err = toml.Unmarshal(data, &s)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidScenario, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal encodes a scenario.
func Marshal(s *Scenario, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(s)
	case FormatTOML:
		return toml.Marshal(s)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidScenario, format)
	}
}

// Validate checks that every step names a known operation with the fields
// it needs.
func (s *Scenario) Validate() error {
	if _, err := s.Config.Controller(); err != nil {
		return err
	}
	var errs []error
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, errors.Join(errs...))
	}
	return nil
}

func (st *Step) validate() error {
	if _, ok := ops[st.Op]; !ok {
		return fmt.Errorf("unknown op %q", st.Op)
	}
	if st.Error != "" {
		if _, ok := errorNames[st.Error]; !ok {
			return fmt.Errorf("unknown error name %q", st.Error)
		}
	}
	if _, err := st.payload(); err != nil {
		return err
	}
	switch st.Op {
	case "setup":
		if p, _ := st.payload(); len(p) != dcd.SetupBufferSize {
			return fmt.Errorf("setup needs %d data bytes, have %d", dcd.SetupBufferSize, len(p))
		}
	case "open", "transfer", "stall", "clear_stall", "in", "out":
		if st.EP == nil {
			return errors.New("ep is required")
		}
	}
	switch st.Op {
	case "open":
		if _, err := dcd.ParseTransferType(st.Type); err != nil {
			return err
		}
	case "expect_event":
		if _, ok := dcd.ParseEventKind(st.Event); !ok {
			return fmt.Errorf("unknown event %q", st.Event)
		}
	case "expect_state":
		if _, ok := dcd.ParseBusState(st.State); !ok {
			return fmt.Errorf("unknown state %q", st.State)
		}
	}
	return nil
}

// endpoint returns the endpoint address, or 0 when EP is not set.
func (st *Step) endpoint() uint8 {
	if st.EP == nil {
		return 0
	}
	return uint8(*st.EP)
}

// payload decodes Data. Whitespace between hex digits is ignored.
func (st *Step) payload() ([]byte, error) {
	if st.Data == "" {
		return nil, nil
	}
	clean := strings.Join(strings.Fields(st.Data), "")
	p, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return p, nil
}
