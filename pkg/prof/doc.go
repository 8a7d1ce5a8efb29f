// Package prof exposes runtime profiling to the usbdsim command.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/usbdsim
//
// Without the tag every operation returns [ErrDisabled] and [Enabled] is
// false, so callers can leave profiling flags wired in unconditionally.
//
// A CPU profile is streamed between [StartCPU] and [StopCPU]. The other
// profiles in [Snapshots] are point-in-time and are written with [Write] or
// [WriteTo]. Block and mutex profiles record nothing until [SetRates]
// enables them.
//
// [Serve] starts an HTTP listener with the /debug/pprof/ handlers for
// inspecting a long scenario run:
//
//	srv, err := prof.Serve("localhost:6060")
//	if err != nil {
//		return err
//	}
//	defer srv.Close()
package prof
