//go:build !profile

package cmd

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfRequiresTag(t *testing.T) {
	for _, p := range []Prof{
		{CPU: "cpu.prof"},
		{Heap: "heap.prof"},
		{HTTP: "localhost:0"},
		{BlockRate: 1},
	} {
		_, err := p.Start(slog.Default())
		assert.ErrorIs(t, err, ErrProfilingDisabled)
	}
}
