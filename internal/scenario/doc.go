// Package scenario runs scripted bus scenarios against the controller
// driver on a simulated peripheral.
//
// A scenario is a YAML or TOML file listing steps. Host steps (reset, setup,
// in, out, ...) drive the simulated bus; device steps (open, transfer,
// stall, set_address, ...) call the driver the way a device stack would;
// expect_* steps check the events the driver reported, the device address
// and the bus state. Run executes the steps in order, records a trace and
// stops at the first step that fails.
//
//	name: bulk-in
//	steps:
//	  - op: reset
//	  - op: open
//	    ep: 0x81
//	    type: bulk
//	    size: 64
//	  - op: transfer
//	    ep: 0x81
//	    length: 100
//	  - op: in
//	    ep: 1
//	    length: 64
//	  - op: in
//	    ep: 1
//	    length: 36
//	  - op: expect_event
//	    event: transfer_complete
//	    ep: 0x81
//	    length: 100
package scenario
