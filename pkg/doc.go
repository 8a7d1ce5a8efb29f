// Package pkg provides shared utilities for the usbd device controller driver.
//
// This package contains the ambient functionality used by every layer of the
// driver, from the interrupt dispatcher up to the simulator CLI:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for allocation, transfer and bus conditions
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentISR, "bus reset")
//
// # Errors
//
// Errors are sentinel values, possibly wrapped:
//
//	if errors.Is(err, pkg.ErrNoFreeSlot) {
//	    // the descriptor set asks for more endpoints than the hardware has
//	}
package pkg
