package scenario

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbd/device/dcd"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := Parse([]byte(src), FormatYAML)
	require.NoError(t, err)
	return s
}

func TestRunTrace(t *testing.T) {
	s := mustParse(t, `
name: trace
steps:
  - op: reset
  - op: open
    ep: 0x81
    type: bulk
    size: 8
  - op: transfer
    ep: 0x81
    length: 10
  - op: in
    ep: 1
  - op: in
    ep: 1
  - op: in
    ep: 1
    error: nak
`)
	res, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Steps)

	var kinds []string
	for _, rec := range res.Trace {
		kinds = append(kinds, rec.Kind+":"+rec.Event)
	}
	assert.Equal(t, []string{
		"event:bus_reset",
		"packet:",
		"event:transfer_complete", // raised while the host is still in the transaction
		"packet:",
		"error:",
	}, kinds)

	done := res.Trace[2]
	assert.Equal(t, 5, done.Step)
	assert.Equal(t, "0x81", done.EP)
	assert.Equal(t, 10, done.Length)
	assert.Contains(t, done.String(), "len=10 actual=10")

	last := res.Trace[3]
	assert.True(t, last.Data1)
	assert.Equal(t, 2, last.Length)
	assert.Equal(t, "08 09", last.Data)
}

func TestRunStopsAtFailedExpectation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		fail int
		msg  string
	}{
		{
			name: "missing event",
			src:  "steps:\n  - op: sof\n  - op: expect_event\n    event: bus_reset\n",
			fail: 2,
			msg:  "no pending bus_reset event",
		},
		{
			name: "leftover event",
			src:  "steps:\n  - op: sof\n  - op: expect_none\n",
			fail: 2,
			msg:  "unexpected events",
		},
		{
			name: "wrong address",
			src:  "steps:\n  - op: expect_address\n    value: 3\n",
			fail: 1,
			msg:  "address 0, want 3",
		},
		{
			name: "wrong state",
			src:  "steps:\n  - op: expect_state\n    state: configured\n",
			fail: 1,
			msg:  "state attached, want configured",
		},
		{
			name: "expected error did not happen",
			src:  "steps:\n  - op: open\n    ep: 0x81\n    type: bulk\n    size: 8\n    error: no_memory\n",
			fail: 1,
			msg:  "want no_memory, got success",
		},
		{
			name: "wrong toggle",
			src: `steps:
  - op: reset
  - op: transfer
    ep: 0x80
    length: 1
  - op: in
    ep: 0
    data1: false
`,
			fail: 3,
			msg:  "DATA1=true, want false",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(mustParse(t, tt.src))
			require.ErrorIs(t, err, ErrExpectation)
			assert.Equal(t, tt.fail-1, res.Steps)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRunUnexpectedError(t *testing.T) {
	res, err := Run(mustParse(t, "steps:\n  - op: in\n    ep: 1\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpectation)
	assert.Zero(t, res.Steps)
	assert.True(t, strings.Contains(err.Error(), "step 1 (in)"), err.Error())
}

func TestRunnerInitFailure(t *testing.T) {
	s := &Scenario{Name: "tiny", Config: Config{BufferSize: 64}}
	_, err := Run(s)
	require.Error(t, err)
}

func TestRunnerRejectsUnknownOp(t *testing.T) {
	s := &Scenario{Name: "bogus", Steps: []Step{{Op: "reset"}, {Op: "teleport"}}}
	_, err := NewRunner(s)
	require.ErrorIs(t, err, ErrInvalidScenario)

	res, err := Run(s)
	require.ErrorIs(t, err, ErrInvalidScenario)
	assert.Zero(t, res.Steps)
}

func TestRunnerAccessors(t *testing.T) {
	r, err := NewRunner(&Scenario{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, dcd.StateAttached, r.Controller().State())
	assert.True(t, r.Peripheral().Attached())
}
