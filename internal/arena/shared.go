// Licensed under the MIT License. See LICENSE file in the project root for details.

//go:build unix

package arena

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Shared is an Arena backed by an anonymous, shared memory mapping. Pages
// mapped MAP_SHARED|MAP_ANON survive a fork and remain coherent across the
// parent and every child that inherited the mapping, so storage can live in
// a region mapped into multiple address spaces.
//
// Lifecycle is split into two explicit operations: Close (this process
// detaches) and Destroy (the owning process unmaps and discards the region).
// Calling Destroy while another process still has the mapping open is a
// caller error — shmmap does not attempt to coordinate that; exactly one
// owning process must call it.
type Shared struct {
	data []byte
	reg  *registry
}

// NewShared creates a new anonymous shared mapping of the given length.
func NewShared(length int) (*Shared, error) {
	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "arena: mmap shared region")
	}
	return &Shared{
		data: data,
		reg:  newRegistry(uint64(length), 0),
	}, nil
}

func (s *Shared) Len() int      { return len(s.data) }
func (s *Shared) Bytes() []byte { return s.data }

func (s *Shared) Allocate(n int) (uint64, error) {
	return s.reg.allocate(n)
}

func (s *Shared) FindOrConstruct(name string, n int) (uint64, bool, error) {
	return s.reg.findOrConstruct(name, n)
}

// Close detaches this process's view of the mapping. Other processes
// attached to the same segment are unaffected.
func (s *Shared) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if err != nil {
		return errors.Wrap(err, "arena: munmap shared region")
	}
	return nil
}

// Destroy unmaps the region and must be called by exactly one owning
// process, never by a process that merely attached to an existing segment;
// calling it from more than one attached process races two unmaps against
// the same mapping.
func (s *Shared) Destroy() error {
	return s.Close()
}
