//go:build profile

package prof

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestStartCPU(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")
	if err := StartCPU(path); err != nil {
		t.Fatalf("StartCPU() error = %v", err)
	}
	if !IsCPUActive() {
		t.Error("IsCPUActive() = false after StartCPU")
	}
	if err := StartCPU(filepath.Join(t.TempDir(), "again.prof")); !errors.Is(err, ErrCPUProfileActive) {
		t.Errorf("second StartCPU() error = %v, want %v", err, ErrCPUProfileActive)
	}
	if err := StopCPU(); err != nil {
		t.Fatalf("StopCPU() error = %v", err)
	}
	if IsCPUActive() {
		t.Error("IsCPUActive() = true after StopCPU")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() == 0 {
		t.Error("CPU profile is empty")
	}
}

func TestStartCPUInvalidPath(t *testing.T) {
	if err := StartCPU("/nonexistent/directory/cpu.prof"); err == nil {
		StopCPU()
		t.Fatal("StartCPU() error = nil for invalid path")
	}
	if IsCPUActive() {
		t.Error("failed StartCPU left profiling active")
	}
}

func TestStartCPUWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := StartCPUWriter(&buf); err != nil {
		t.Fatalf("StartCPUWriter() error = %v", err)
	}
	if err := StartCPUWriter(io.Discard); !errors.Is(err, ErrCPUProfileActive) {
		t.Errorf("second StartCPUWriter() error = %v, want %v", err, ErrCPUProfileActive)
	}
	if err := StopCPU(); err != nil {
		t.Fatalf("StopCPU() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Error("CPU profile is empty")
	}
}

func TestStopCPUWhenIdle(t *testing.T) {
	if err := StopCPU(); !errors.Is(err, ErrCPUProfileNotActive) {
		t.Errorf("StopCPU() error = %v, want %v", err, ErrCPUProfileNotActive)
	}
}

func TestWriteSnapshots(t *testing.T) {
	dir := t.TempDir()
	for _, p := range Snapshots {
		t.Run(p.String(), func(t *testing.T) {
			path := filepath.Join(dir, p.String()+".prof")
			if err := Write(p, path); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if _, err := os.Stat(path); err != nil {
				t.Errorf("Stat() error = %v", err)
			}
		})
	}
}

func TestWriteToRejects(t *testing.T) {
	for _, p := range []Profile{ProfileCPU, "nonexistent"} {
		if err := WriteTo(p, io.Discard, 0); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("WriteTo(%q) error = %v, want %v", p, err, ErrInvalidProfile)
		}
	}
	if err := Write(ProfileHeap, "/nonexistent/directory/heap.prof"); err == nil {
		t.Error("Write() error = nil for invalid path")
	}
}

func TestWriteToText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTo(ProfileGoroutine, &buf, 1); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if !strings.Contains(buf.String(), "goroutine") {
		t.Error("text goroutine profile does not mention goroutines")
	}
}

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/pprof/goroutine?debug=1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestServe(t *testing.T) {
	srv, err := Serve("localhost:0")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr + "/debug/pprof/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestConcurrentStartStop(t *testing.T) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if StartCPUWriter(io.Discard) == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if started != 1 {
		t.Errorf("%d concurrent StartCPUWriter calls succeeded, want 1", started)
	}
	if err := StopCPU(); err != nil {
		t.Errorf("StopCPU() error = %v", err)
	}
}
