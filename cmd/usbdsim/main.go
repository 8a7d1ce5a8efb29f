// Command usbdsim runs USB device controller scenarios against a simulated
// NUC121/NUC126 USBD peripheral.
package main

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/ardnew/usbd/internal/cmd"
	"github.com/ardnew/usbd/internal/configpaths"
)

var version = "dev"

func main() {
	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.CandidatePaths(userCfg)

	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name(configpaths.AppName),
		kong.Description("Simulated NUC121/NUC126 USB device controller"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closers, err := cmd.SetupLogger(cli.Log, os.Stderr)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}

	stopProf, err := cli.Prof.Start(logger)
	ctx.FatalIfErrorf(err)

	ctx.Bind(logger)
	ctx.BindTo(os.Stdout, (*io.Writer)(nil))

	err = ctx.Run()
	if perr := stopProf(); perr != nil {
		logger.Error("failed to write profiles", "error", perr)
	}
	for _, c := range closers {
		_ = c.Close()
	}
	ctx.FatalIfErrorf(err)
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("USBDSIM_CONFIG")
}
