package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	yaml "gopkg.in/yaml.v3"

	"github.com/ardnew/usbd/internal/scenario"
)

// ErrScenarioFailed is returned when at least one scenario did not pass.
var ErrScenarioFailed = errors.New("scenario failed")

// Run executes scenario files and prints their traces.
type Run struct {
	Files    []string `arg:"" help:"Scenario files (.yaml, .yml or .toml)" type:"existingfile"`
	Trace    string   `help:"Trace output" enum:"text,yaml,json,none" default:"text" env:"USBDSIM_TRACE"`
	FailFast bool     `help:"Stop at the first failing scenario"`
}

// Run is called by Kong when the run command is executed.
func (r *Run) Run(logger *slog.Logger, out io.Writer) error {
	enc := newTraceEncoder(r.Trace, out)
	failed := 0
	for _, path := range r.Files {
		err := r.runFile(path, enc, logger)
		if err == nil {
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL %v\n", err)
		if r.FailFast {
			break
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrScenarioFailed, failed, len(r.Files))
	}
	return nil
}

func (r *Run) runFile(path string, enc traceEncoder, logger *slog.Logger) error {
	s, err := scenario.Load(path)
	if err != nil {
		return err
	}
	res, runErr := scenario.Run(s)
	if err := enc(res); err != nil {
		return err
	}
	if runErr != nil {
		logger.Error("scenario failed", "scenario", s.Name, "file", path, "error", runErr)
		return runErr
	}
	logger.Info("scenario passed", "scenario", s.Name, "steps", res.Steps)
	return nil
}

type traceEncoder func(*scenario.Result) error

func newTraceEncoder(format string, out io.Writer) traceEncoder {
	switch format {
	case "none":
		return func(res *scenario.Result) error {
			_, err := fmt.Fprintf(out, "%s: %d steps\n", res.Name, res.Steps)
			return err
		}
	case "yaml":
		enc := yaml.NewEncoder(out)
		return func(res *scenario.Result) error { return enc.Encode(res) }
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return func(res *scenario.Result) error { return enc.Encode(res) }
	default:
		return func(res *scenario.Result) error {
			if _, err := fmt.Fprintf(out, "=== %s\n", res.Name); err != nil {
				return err
			}
			for _, rec := range res.Trace {
				if _, err := fmt.Fprintln(out, rec); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(out, "--- %s: %d steps\n", res.Name, res.Steps)
			return err
		}
	}
}

// Check decodes and validates scenario files.
type Check struct {
	Files []string `arg:"" help:"Scenario files (.yaml, .yml or .toml)" type:"existingfile"`
}

// Run is called by Kong when the check command is executed.
func (c *Check) Run(out io.Writer) error {
	var errs []error
	for _, path := range c.Files {
		s, err := scenario.Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "ok %s (%d steps)\n", s.Name, len(s.Steps))
	}
	return errors.Join(errs...)
}
