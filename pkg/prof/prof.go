//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/ardnew/usbd/pkg"
)

// Enabled reports whether the binary was built with the "profile" tag.
const Enabled = true

// Profiling errors.
var (
	// ErrCPUProfileActive indicates CPU profiling is already active.
	ErrCPUProfileActive = errors.New("cpu profile already active")

	// ErrCPUProfileNotActive indicates CPU profiling is not active.
	ErrCPUProfileNotActive = errors.New("cpu profile not active")

	// ErrInvalidProfile indicates an invalid or unsupported profile type.
	ErrInvalidProfile = errors.New("invalid profile")
)

var (
	cpuMu     sync.Mutex
	cpuCloser io.Closer
	cpuOn     bool
)

// StartCPU streams a CPU profile to path until StopCPU is called.
func StartCPU(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := startCPU(f, f); err != nil {
		f.Close()
		return err
	}
	return nil
}

// StartCPUWriter streams a CPU profile to w until StopCPU is called.
func StartCPUWriter(w io.Writer) error {
	return startCPU(w, nil)
}

func startCPU(w io.Writer, c io.Closer) error {
	cpuMu.Lock()
	defer cpuMu.Unlock()
	if cpuOn {
		return ErrCPUProfileActive
	}
	if err := pprof.StartCPUProfile(w); err != nil {
		return err
	}
	cpuOn, cpuCloser = true, c
	return nil
}

// StopCPU ends CPU profiling. It returns [ErrCPUProfileNotActive] when no
// profile is running.
func StopCPU() error {
	cpuMu.Lock()
	defer cpuMu.Unlock()
	if !cpuOn {
		return ErrCPUProfileNotActive
	}
	pprof.StopCPUProfile()
	cpuOn = false
	if cpuCloser != nil {
		err := cpuCloser.Close()
		cpuCloser = nil
		return err
	}
	return nil
}

// IsCPUActive reports whether a CPU profile is running.
func IsCPUActive() bool {
	cpuMu.Lock()
	defer cpuMu.Unlock()
	return cpuOn
}

// Write saves a snapshot profile to path in protobuf form.
func Write(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTo(profile, f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteTo writes a snapshot profile to w. debug 0 is protobuf, 1 is text.
// The CPU profile is not a snapshot and is rejected.
func WriteTo(profile Profile, w io.Writer, debug int) error {
	if profile == ProfileCPU {
		return fmt.Errorf("%w: %s is streamed, use StartCPU", ErrInvalidProfile, profile)
	}
	p := pprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, profile)
	}
	return p.WriteTo(w, debug)
}

// SetRates sets the block profile rate and mutex profile fraction. Zero
// disables the respective profile.
func SetRates(block, mutex int) {
	runtime.SetBlockProfileRate(block)
	runtime.SetMutexProfileFraction(mutex)
}

// Handler returns the /debug/pprof/ handlers on a fresh mux.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	return mux
}

// Serve listens on addr and serves [Handler] in the background. The
// returned server is shut down with Close.
func Serve(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Addr: ln.Addr().String(), Handler: Handler()}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogWarn(pkg.ComponentProf, "pprof server stopped", "addr", srv.Addr, "error", err)
		}
	}()
	pkg.LogInfo(pkg.ComponentProf, "pprof server listening", "addr", srv.Addr)
	return srv, nil
}
