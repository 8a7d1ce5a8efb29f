package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"

	"github.com/ardnew/usbd/device/dcd"
	"github.com/ardnew/usbd/internal/configpaths"
	"github.com/ardnew/usbd/internal/scenario"
)

// ErrExists is returned when a template would overwrite a file.
var ErrExists = errors.New("destination exists, use --force to overwrite")

// Init groups the template generators.
type Init struct {
	Config   InitConfig   `cmd:"" help:"Generate a configuration file with the flag defaults"`
	Scenario InitScenario `cmd:"" help:"Generate a scenario that enumerates a device"`
}

// InitConfig writes a configuration file populated with flag defaults.
type InitConfig struct {
	Format string `help:"Output format" enum:"json,yaml,toml" default:"yaml"`
	Output string `help:"Destination file, - for stdout (defaults to usbdsim.<ext>)"`
	Force  bool   `help:"Overwrite if the file already exists"`
}

// Run is called by Kong when the init config command is executed.
func (c *InitConfig) Run(out io.Writer) error {
	root := configDefaults(reflect.TypeOf(CLI{}))
	for k, v := range configDefaults(reflect.TypeOf(Run{})) {
		root[k] = v
	}

	var data []byte
	var err error
	switch c.Format {
	case "json":
		data, err = json.MarshalIndent(root, "", "  ")
	case "toml":
		data, err = toml.Marshal(root)
	default:
		data, err = yaml.Marshal(root)
	}
	if err != nil {
		return err
	}

	dest := c.Output
	if dest == "" {
		dest = configpaths.AppName + configpaths.Ext(c.Format)
	}
	return writeTemplate(out, dest, data, c.Force)
}

// InitScenario writes a scenario that resets the bus and reads the device
// descriptor over the control pipe.
type InitScenario struct {
	Name    string `arg:"" help:"Scenario name"`
	Format  string `help:"Output format" enum:"yaml,toml" default:"yaml"`
	Variant string `help:"Controller variant" enum:"nuc121,nuc126" default:"nuc121"`
	Output  string `help:"Destination file, - for stdout (defaults to <name>.<ext>)"`
	Force   bool   `help:"Overwrite if the file already exists"`
}

// Run is called by Kong when the init scenario command is executed.
func (c *InitScenario) Run(out io.Writer) error {
	s := enumerationTemplate(c.Name, c.Variant)
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := scenario.Marshal(s, scenario.Format(c.Format))
	if err != nil {
		return err
	}
	dest := c.Output
	if dest == "" {
		dest = c.Name + configpaths.Ext(c.Format)
	}
	return writeTemplate(out, dest, data, c.Force)
}

func writeTemplate(out io.Writer, dest string, data []byte, force bool) error {
	if dest == "-" {
		_, err := out.Write(data)
		return err
	}
	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s: %w", dest, ErrExists)
		}
	}
	if err := configpaths.EnsureDir(dest); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "wrote %s\n", dest)
	return err
}

// configDefaults maps the flags of t that declare a default to that value,
// keyed the way the JSON loader looks them up. Embedded groups nest under
// their prefix. Commands and arguments are left out.
func configDefaults(t reflect.Type) map[string]any {
	out := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Name == "Config" || f.Type == reflect.TypeOf(kong.VersionFlag(false)) {
			continue
		}
		if _, ok := f.Tag.Lookup("cmd"); ok {
			continue
		}
		if _, ok := f.Tag.Lookup("arg"); ok {
			continue
		}
		if _, ok := f.Tag.Lookup("embed"); ok {
			if sub := configDefaults(f.Type); len(sub) > 0 {
				out[strings.TrimSuffix(f.Tag.Get("prefix"), ".")] = sub
			}
			continue
		}
		if def, ok := f.Tag.Lookup("default"); ok {
			out[snakeCase(f.Name)] = defaultValue(f.Type.Kind(), def)
		}
	}
	return out
}

func defaultValue(kind reflect.Kind, def string) any {
	switch kind {
	case reflect.Bool:
		return def == "true"
	case reflect.Int, reflect.Int64, reflect.Int32:
		n, _ := strconv.Atoi(def)
		return n
	default:
		return def
	}
}

// snakeCase converts a Go field name to the key used in configuration
// files: BlockRate becomes block_rate and HTTP becomes http.
func snakeCase(name string) string {
	r := []rune(name)
	var b strings.Builder
	for i, c := range r {
		if unicode.IsUpper(c) && i > 0 &&
			(unicode.IsLower(r[i-1]) || (i+1 < len(r) && unicode.IsLower(r[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(c))
	}
	return b.String()
}

func enumerationTemplate(name, variant string) *scenario.Scenario {
	n := func(v int) *int { return &v }
	data1 := true

	desc := "12 01 00 02 00 00 00 40 34 12 78 56 00 01 01 02 03 01"
	return &scenario.Scenario{
		Name:        name,
		Description: "Bus reset followed by GET_DESCRIPTOR(DEVICE) on the control pipe.",
		Config:      scenario.Config{Variant: variant},
		Steps: []scenario.Step{
			{Op: "reset"},
			{Op: "expect_event", Event: dcd.EventBusReset.String()},
			{Op: "setup", Data: "80 06 00 01 00 00 40 00"},
			{Op: "expect_event", Event: dcd.EventSetupReceived.String()},
			{Op: "transfer", EP: n(int(dcd.EP0In)), Data: desc},
			{Op: "in", EP: n(0), Length: n(18), Data1: &data1},
			{Op: "expect_event", Event: dcd.EventTransferComplete.String(), EP: n(int(dcd.EP0In)), Length: n(18)},
			{Op: "transfer", EP: n(int(dcd.EP0Out)), Length: n(0)},
			{Op: "out", EP: n(0)},
			{Op: "expect_event", Event: dcd.EventTransferComplete.String(), EP: n(int(dcd.EP0Out)), Actual: n(0)},
			{Op: "expect_none"},
		},
	}
}
