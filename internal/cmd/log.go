package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/ardnew/usbd/pkg"
)

// Log selects where and how driver logs are written.
type Log struct {
	Level  string `help:"Log level" enum:"debug,info,warn,error" default:"warn" env:"USBDSIM_LOG_LEVEL"`
	Format string `help:"Log format, auto is text on a terminal and json otherwise" enum:"auto,text,json" default:"auto" env:"USBDSIM_LOG_FORMAT"`
	File   string `help:"Append logs to this file instead of stderr" type:"path"`
}

// SetupLogger points the driver logger at stderr or the configured file and
// returns it with the files that must be closed on exit.
func SetupLogger(cfg Log, stderr *os.File) (*slog.Logger, []io.Closer, error) {
	var closers []io.Closer
	out := stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closers = append(closers, f)
	}
	pkg.SetLogLevel(pkg.ParseLogLevel(cfg.Level))
	pkg.SetLogOutput(out, logFormat(cfg.Format, out))
	return pkg.DefaultLogger, closers, nil
}

func logFormat(name string, f *os.File) pkg.LogFormat {
	switch name {
	case "text":
		return pkg.LogFormatText
	case "json":
		return pkg.LogFormatJSON
	}
	if isTerminal(f) {
		return pkg.LogFormatText
	}
	return pkg.LogFormatJSON
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
