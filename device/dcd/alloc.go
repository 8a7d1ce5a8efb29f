package dcd

import (
	"fmt"

	"github.com/ardnew/usbd/pkg"
)

// allocator hands out packet RAM with a bump cursor. Regions are never
// reclaimed; a controller reset rewinds the cursor.
type allocator struct {
	base     int
	cursor   int
	capacity int
}

func (a *allocator) reset(base, capacity int) {
	a.base = base
	a.cursor = base
	a.capacity = capacity
}

// allocate returns the offset of a region of size bytes. The cursor is left
// untouched when the region does not fit.
func (a *allocator) allocate(size int) (int, error) {
	if size < 0 || a.cursor+size > a.capacity {
		return 0, fmt.Errorf("%w: %d bytes requested, %d of %d free",
			pkg.ErrNoMemory, size, a.capacity-a.cursor, a.capacity)
	}
	off := a.cursor
	a.cursor += size
	pkg.LogDebug(pkg.ComponentAlloc, "packet buffer allocated",
		"offset", off, "size", size, "cursor", a.cursor)
	return off, nil
}

func (a *allocator) used() int { return a.cursor - a.base }

func (a *allocator) free() int { return a.capacity - a.cursor }
