// Package rotator implements the rotator session manager: a pool of
// hardware rotation sessions, each backed by a small ring of output
// buffers so a rotated frame can be in flight while the next is queued.
package rotator

import (
	"fmt"
	"sync"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// State is a session's slot in the Released/Ready/Acquired table.
type State int

const (
	StateReleased State = iota
	StateReady
	StateAcquired
)

// Config is the rotation configuration a session is opened for: source
// format/size and the transform to apply.
type Config struct {
	Width, Height int
	Format        layer.Format
	Transform     layer.Transform
}

// HWSession is the hardware-facing half of a session, implemented by
// whatever backend actually owns the rotator block (Non-goal: this
// package does not itself perform pixel rotation, only lifecycle).
type HWSession interface {
	Open(cfg Config) error
	Close() error
	AllocateBuffer(index int) (fd int, offset int64, err error)
}

type session struct {
	id          int
	state       State
	cfg         Config
	hw          HWSession
	bufferCount int
	bufAlloc    bool
	releaseFd   []*layer.Fence
	currIndex   int
}

// Manager is the session pool. A frame's rotator needs are resolved
// against it once per display per frame via Start/GetNextBuffer/Stop,
// the same shape as the resource manager's pipe pool.
type Manager struct {
	mu            sync.Mutex
	sessions      []*session
	activeCount   int
	hwFactory     func() HWSession
	defaultBufCnt int
}

// NewManager builds an empty session pool sized to maxSessions; hwFactory
// constructs a fresh HWSession implementation for each newly acquired
// session. bufferCount defaults to 2 when 0 is passed, matching the
// hardware core's double-buffered default.
func NewManager(maxSessions int, bufferCount int, hwFactory func() HWSession) *Manager {
	if bufferCount <= 0 {
		bufferCount = 2
	}
	m := &Manager{hwFactory: hwFactory, defaultBufCnt: bufferCount}
	for i := 0; i < maxSessions; i++ {
		m.sessions = append(m.sessions, &session{id: i, state: StateReleased})
	}
	return m
}

// Start promotes up to len(active) Acquired sessions back to Ready; it is
// called once at the top of a display's frame, mirroring
// SessionManager::Start.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.activeCount
	for _, s := range m.sessions {
		if n == 0 {
			break
		}
		if s.state == StateAcquired {
			s.state = StateReady
			n--
		}
	}
}

// OpenSession finds a Ready session whose configuration matches cfg
// exactly and promotes it to Acquired, or else opens a fresh session from
// the first Released slot.
func (m *Manager) OpenSession(cfg Config) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.state == StateReady && s.cfg == cfg {
			s.state = StateAcquired
			return s.id, nil
		}
	}
	for _, s := range m.sessions {
		if s.state == StateReleased {
			if err := m.acquireLocked(s, cfg); err != nil {
				return 0, err
			}
			return s.id, nil
		}
	}
	return 0, sdeerr.New("rotator: opensession", sdeerr.Resources)
}

func (m *Manager) acquireLocked(s *session, cfg Config) error {
	hw := m.hwFactory()
	if err := hw.Open(cfg); err != nil {
		return sdeerr.Wrap("rotator: open", sdeerr.Hardware, err)
	}
	s.hw = hw
	s.cfg = cfg
	s.bufferCount = m.defaultBufCnt
	s.releaseFd = make([]*layer.Fence, s.bufferCount)
	s.currIndex = 0
	s.bufAlloc = false
	s.state = StateAcquired
	m.activeCount++
	return nil
}

// GetNextBuffer returns the next output buffer descriptor for sessionID,
// waiting on (then closing) that slot's previous release fence before
// handing it out so the caller never writes into a buffer the display
// hardware might still be reading.
func (m *Manager) GetNextBuffer(sessionID int) (fd int, offset int64, err error) {
	m.mu.Lock()
	s, ok := m.findLocked(sessionID)
	if !ok {
		m.mu.Unlock()
		return 0, 0, sdeerr.New("rotator: getnextbuffer", sdeerr.Parameters)
	}
	if s.state != StateAcquired {
		m.mu.Unlock()
		return 0, 0, sdeerr.New("rotator: getnextbuffer", sdeerr.Parameters)
	}
	if !s.bufAlloc {
		s.bufAlloc = true
	}
	hw := s.hw
	idx := s.currIndex
	waitFence := s.releaseFd[idx]
	s.releaseFd[idx] = nil
	m.mu.Unlock()

	if waitFence != nil {
		if err := waitFence.Wait(-1); err != nil {
			waitFence.Close()
			return 0, 0, sdeerr.Wrap("rotator: getnextbuffer", sdeerr.TimeOut, err)
		}
		waitFence.Close()
	}

	fd, offset, err = hw.AllocateBuffer(idx)
	if err != nil {
		return 0, 0, sdeerr.Wrap("rotator: getnextbuffer", sdeerr.Memory, err)
	}
	return fd, offset, nil
}

// SetReleaseFd records the fence the display hardware will signal once
// it is done reading index's buffer, and advances the ring to the next
// slot. Unlike the implementation it replaces, a session-ID mismatch is
// a returned error rather than a silently discarded statement.
func (m *Manager) SetReleaseFd(sessionID int, fence *layer.Fence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.findLocked(sessionID)
	if !ok {
		return sdeerr.New("rotator: setreleasefd", sdeerr.Parameters)
	}
	s.releaseFd[s.currIndex] = fence
	s.currIndex = (s.currIndex + 1) % s.bufferCount
	return nil
}

// Stop releases every Ready session back to Released, closing its
// hardware handle and any outstanding release fences.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, s := range m.sessions {
		if s.state != StateReady {
			continue
		}
		if err := m.releaseLocked(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Manager) releaseLocked(s *session) error {
	var err error
	if s.hw != nil {
		err = s.hw.Close()
	}
	for i, f := range s.releaseFd {
		if f != nil {
			f.Close()
			s.releaseFd[i] = nil
		}
	}
	s.state = StateReleased
	s.hw = nil
	s.releaseFd = nil
	s.bufAlloc = false
	m.activeCount--
	if err != nil {
		return sdeerr.Wrap("rotator: release", sdeerr.Hardware, err)
	}
	return nil
}

func (m *Manager) findLocked(id int) (*session, bool) {
	for _, s := range m.sessions {
		if s.id == id {
			return s, true
		}
	}
	return nil, false
}

// Snapshot reports each session's state for diagnostics.
func (m *Manager) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = fmt.Sprintf("session[%d] state=%d active=%d", s.id, s.state, m.activeCount)
	}
	return out
}
