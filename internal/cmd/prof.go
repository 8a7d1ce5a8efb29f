package cmd

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ardnew/usbd/pkg/prof"
)

// ErrProfilingDisabled is returned when profiling flags are given to a
// binary built without the "profile" tag.
var ErrProfilingDisabled = errors.New("profiling flags need a binary built with -tags profile")

// Prof selects the profiles collected while a command runs. Profiling needs
// a binary built with the "profile" tag.
type Prof struct {
	CPU           string `help:"Write a CPU profile to this file" type:"path"`
	Heap          string `help:"Write a heap profile to this file on exit" type:"path"`
	HTTP          string `help:"Serve /debug/pprof/ on this address" placeholder:"ADDR"`
	BlockRate     int    `help:"Block profile rate in nanoseconds, 0 disables"`
	MutexFraction int    `help:"Sample 1 in n mutex contention events, 0 disables"`
}

func (p Prof) requested() bool {
	return p.CPU != "" || p.Heap != "" || p.HTTP != "" || p.BlockRate != 0 || p.MutexFraction != 0
}

// Start begins the requested profiles. The returned stop function ends CPU
// profiling, writes the snapshots and closes the HTTP listener.
func (p Prof) Start(logger *slog.Logger) (stop func() error, err error) {
	if !p.requested() {
		return func() error { return nil }, nil
	}
	if !prof.Enabled {
		return nil, ErrProfilingDisabled
	}

	prof.SetRates(p.BlockRate, p.MutexFraction)

	var srv *http.Server
	if p.HTTP != "" {
		if srv, err = prof.Serve(p.HTTP); err != nil {
			return nil, err
		}
		logger.Info("profiling server started", "addr", srv.Addr)
	}
	if p.CPU != "" {
		if err := prof.StartCPU(p.CPU); err != nil {
			if srv != nil {
				srv.Close()
			}
			return nil, err
		}
	}

	return func() error {
		var errs []error
		if p.CPU != "" {
			errs = append(errs, prof.StopCPU())
		}
		if p.Heap != "" {
			errs = append(errs, prof.Write(prof.ProfileHeap, p.Heap))
		}
		if srv != nil {
			errs = append(errs, srv.Close())
		}
		return errors.Join(errs...)
	}, nil
}
