//go:build !profile

package prof

import (
	"errors"
	"io"
	"net/http"
)

// Enabled reports whether the binary was built with the "profile" tag.
const Enabled = false

// ErrDisabled is returned by every operation of a binary built without the
// "profile" tag.
var ErrDisabled = errors.New("profiling not compiled in, rebuild with -tags profile")

// The operations below mirror the profile build.

func StartCPU(string) error { return ErrDisabled }

func StartCPUWriter(io.Writer) error { return ErrDisabled }

func StopCPU() error { return ErrDisabled }

func IsCPUActive() bool { return false }

func Write(Profile, string) error { return ErrDisabled }

func WriteTo(Profile, io.Writer, int) error { return ErrDisabled }

func SetRates(int, int) {}

func Handler() http.Handler { return http.NotFoundHandler() }

func Serve(string) (*http.Server, error) { return nil, ErrDisabled }
