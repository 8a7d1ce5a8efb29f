// Package cmd implements the usbdsim commands.
package cmd

import "github.com/alecthomas/kong"

// CLI is the root command line of usbdsim. Flags may also come from a JSON,
// YAML or TOML configuration file; flags and environment take precedence.
type CLI struct {
	Config  string           `help:"Configuration file (json, yaml or toml)" type:"path" env:"USBDSIM_CONFIG" placeholder:"FILE"`
	Log     Log              `embed:"" prefix:"log."`
	Prof    Prof             `embed:"" prefix:"prof."`
	Version kong.VersionFlag `help:"Print the version and exit"`

	Run   Run   `cmd:"" help:"Run scenario files against the simulated controller"`
	Check Check `cmd:"" help:"Validate scenario files without running them"`
	Init  Init  `cmd:"" help:"Generate configuration and scenario templates"`
}
