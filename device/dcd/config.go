package dcd

import (
	"fmt"

	"github.com/ardnew/usbd/pkg"
)

// Packet RAM layout of the control endpoint pair. The SETUP buffer sits at
// offset zero, followed by the EP0 IN and EP0 OUT buffers.
const (
	SetupBufferOffset = 0
	SetupBufferSize   = 8
)

// Controller variants.
const (
	VariantNUC121 = "nuc121"
	VariantNUC126 = "nuc126"
)

// Config describes the controller instance.
type Config struct {
	Variant    string // informational, see DefaultConfigFor
	BufferSize int    // packet RAM capacity in bytes
	EP0Size    int    // control endpoint max packet size
	LPM        bool   // acknowledge Link Power Management tokens
}

// DefaultConfig returns the NUC121 configuration with a 64 byte control
// endpoint.
func DefaultConfig() Config {
	return DefaultConfigFor(VariantNUC121)
}

// DefaultConfigFor returns the default configuration of a controller variant.
// Unknown variants get the NUC121 defaults.
func DefaultConfigFor(variant string) Config {
	cfg := Config{Variant: VariantNUC121, BufferSize: 768, EP0Size: 64}
	if variant == VariantNUC126 {
		cfg.Variant = VariantNUC126
		cfg.BufferSize = 512
	}
	return cfg
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	def := DefaultConfigFor(c.Variant)
	if c.Variant == "" {
		c.Variant = def.Variant
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
	if c.EP0Size == 0 {
		c.EP0Size = def.EP0Size
	}
	return c
}

// Validate checks that the control endpoint buffers fit in packet RAM.
func (c Config) Validate() error {
	switch c.EP0Size {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: EP0 size %d", pkg.ErrInvalidParameter, c.EP0Size)
	}
	if need := c.userBase(); need > c.BufferSize {
		return fmt.Errorf("%w: control buffers need %d bytes, packet RAM is %d",
			pkg.ErrNoMemory, need, c.BufferSize)
	}
	return nil
}

// ep0InOffset is the packet RAM offset of the EP0 IN buffer.
func (c Config) ep0InOffset() int { return SetupBufferOffset + SetupBufferSize }

// ep0OutOffset is the packet RAM offset of the EP0 OUT buffer.
func (c Config) ep0OutOffset() int { return c.ep0InOffset() + c.EP0Size }

// userBase is the first packet RAM offset available to opened endpoints.
func (c Config) userBase() int { return c.ep0OutOffset() + c.EP0Size }
