// Licensed under the MIT License. See LICENSE file in the project root for details.

package arena

// Heap is an in-process Arena backed by a plain Go byte slice. It has no
// cross-process visibility and exists for tests and for hosting programs
// that only need a single address space; offsets into it behave exactly
// like an address would, so the same bucket/slab/reclaim code runs
// unmodified over it.
type Heap struct {
	data []byte
	reg  *registry
}

// NewHeap creates a Heap arena of the given length.
func NewHeap(length int) *Heap {
	return &Heap{
		data: make([]byte, length),
		reg:  newRegistry(uint64(length), 0),
	}
}

func (h *Heap) Len() int       { return len(h.data) }
func (h *Heap) Bytes() []byte  { return h.data }
func (h *Heap) Close() error   { return nil }

func (h *Heap) Allocate(n int) (uint64, error) {
	return h.reg.allocate(n)
}

func (h *Heap) FindOrConstruct(name string, n int) (uint64, bool, error) {
	return h.reg.findOrConstruct(name, n)
}
