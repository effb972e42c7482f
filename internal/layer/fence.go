package layer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Fence wraps a sync-fence file descriptor. Buffers change hands between
// producer and consumer by handing over a Fence rather than by blocking,
// the same handoff shape as an acquire/release fence on a real display
// pipeline.
type Fence struct {
	fd int
}

// NoFence is returned by producers that already know the buffer is ready.
var NoFence = &Fence{fd: -1}

// NewSignalledFence returns a fence backed by a real descriptor that is
// already readable, standing in for a kernel sync fence the hardware has
// already signalled. Backends with no real fence source use it so the
// dedup/dup/close bookkeeping downstream still exercises genuine fds.
func NewSignalledFence() (*Fence, error) {
	fd, err := unix.Eventfd(1, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("fence: eventfd: %w", err)
	}
	return &Fence{fd: fd}, nil
}

// NewFence takes ownership of an existing fd.
func NewFence(fd int) *Fence {
	if fd < 0 {
		return NoFence
	}
	return &Fence{fd: fd}
}

// FD returns the raw descriptor, or -1 if this Fence represents "already
// signalled".
func (f *Fence) FD() int {
	if f == nil {
		return -1
	}
	return f.fd
}

// Dup returns an independent Fence referring to the same underlying
// fence object, so two consumers can each close their own copy.
func (f *Fence) Dup() (*Fence, error) {
	if f == nil || f.fd < 0 {
		return NoFence, nil
	}
	nfd, err := unix.Dup(f.fd)
	if err != nil {
		return nil, fmt.Errorf("fence: dup: %w", err)
	}
	return &Fence{fd: nfd}, nil
}

// Close releases the descriptor. Closing NoFence, or a nil Fence, is a
// no-op so callers can close unconditionally.
func (f *Fence) Close() error {
	if f == nil || f.fd < 0 {
		return nil
	}
	fd := f.fd
	f.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("fence: close: %w", err)
	}
	return nil
}

// Wait blocks the calling goroutine until the fence signals or the
// deadline (in milliseconds, -1 for infinite) elapses, the same
// semantics as the kernel sync_fence_wait this stands in for.
func (f *Fence) Wait(timeoutMs int) error {
	if f == nil || f.fd < 0 {
		return nil
	}
	pfd := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, timeoutMs)
	if err != nil {
		return fmt.Errorf("fence: wait: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("fence: wait: timed out")
	}
	return nil
}
