// Package pipe implements the resource manager: the pool of hardware
// mixer pipes shared across every registered display, and the
// acquire/release bookkeeping that keeps a pipe bound to exactly one
// display's hardware layer for exactly one frame at a time.
package pipe

import (
	"fmt"
	"sync"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// Type is the hardware pipe class. VIG pipes can scale and handle YUV;
// RGB and DMA pipes are RGB-only; Cursor pipes are a small dedicated
// overlay used only for the hardware cursor composition kind.
type Type int

const (
	TypeVIG Type = iota
	TypeRGB
	TypeDMA
	TypeCursor
)

// State tracks a pipe's lifecycle across the Start/Acquire/PostCommit
// cycle. OwnedByKernel marks a pipe the bootloader/splash screen left
// running that must be handed back before first use.
type State int

const (
	StateIdle State = iota
	StateReserved
	StateAcquired
	StateToRelease
	StateOwnedByKernel
)

// HWBlockID identifies a registered display's hardware mixer block.
type HWBlockID int

// SourcePipe is one entry of the shared pipe inventory.
type SourcePipe struct {
	ID       int
	Type     Type
	Priority int // lower value wins when both sides of a split compete
	State    State

	ownerBlock HWBlockID
	ownerFrame uint64
	reserved   bool
	side       splitSide
	// prevSide remembers the side an already-Acquired pipe held before
	// this frame's reservation retargeted it, so a failed Acquire can
	// restore it exactly.
	prevSide splitSide
}

type splitSide int

const (
	sideNone splitSide = iota
	sideLeft
	sideRight
)

// Inventory describes the pipe counts the resource manager is
// constructed with; counts are constructor arguments, not parsed from a
// config file, matching how the teacher's video mode tables are built.
type Inventory struct {
	VIG, RGB, DMA, Cursor int
	// SplashPipes is how many of the first RGB pipes are pre-owned by
	// the kernel/bootloader and must be reclaimed on the first committed
	// frame of the primary display.
	SplashPipes int
	// NonScalarRGB is set when the RGB pipe class cannot scale; a layer
	// that needs scaling then skips RGB and falls through to VIG.
	NonScalarRGB bool
}

type displayInfo struct {
	hwBlock    HWBlockID
	registered bool
	frameCount uint64
	frameOpen  bool
	// splashHandoffDone flips when the primary's first frame reaches
	// PostCommit; frameCount can't stand in for it since Start also runs
	// for frames that never commit.
	splashHandoffDone bool
}

// Manager owns the pipe inventory shared across every registered
// display. All methods are safe for concurrent use; each
// display.Controller serializes its own frame calls, and this mutex
// protects the shared inventory itself.
type Manager struct {
	mu           sync.Mutex
	pipes        []SourcePipe
	displays     map[HWBlockID]*displayInfo
	nextID       int
	nonScalarRGB bool
	primary      HWBlockID
	primarySet   bool
}

// NewManager seeds the pipe inventory. Pipe priority is the array index
// within each type, exactly as the hardware core numbers them: lower
// index, higher priority.
func NewManager(inv Inventory) *Manager {
	m := &Manager{displays: make(map[HWBlockID]*displayInfo), nonScalarRGB: inv.NonScalarRGB}
	add := func(t Type, n int) {
		for i := 0; i < n; i++ {
			st := StateIdle
			if t == TypeRGB && i < inv.SplashPipes {
				st = StateOwnedByKernel
			}
			m.pipes = append(m.pipes, SourcePipe{ID: m.nextID, Type: t, Priority: i, State: st})
			m.nextID++
		}
	}
	add(TypeVIG, inv.VIG)
	add(TypeRGB, inv.RGB)
	add(TypeDMA, inv.DMA)
	add(TypeCursor, inv.Cursor)
	return m
}

// RegisterDisplay admits a new display into the shared pool. The first
// display registered is taken to be the primary, the one whose first
// committed frame performs the splash handoff.
func (m *Manager) RegisterDisplay(id HWBlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displays[id] = &displayInfo{hwBlock: id, registered: true}
	if !m.primarySet {
		m.primary, m.primarySet = id, true
	}
}

// MarkPrimary overrides which display performs the splash handoff, for
// engines that register displays in a non-default order.
func (m *Manager) MarkPrimary(id HWBlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary, m.primarySet = id, true
}

// UnregisterDisplay removes a display and purges any pipe it still owns.
func (m *Manager) UnregisterDisplay(id HWBlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(id)
	delete(m.displays, id)
}

// Start opens a frame for id, releasing any pipe this display marked
// ToRelease in the previous PostCommit back to Idle.
func (m *Manager) Start(id HWBlockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	di, ok := m.displays[id]
	if !ok {
		return sdeerr.New("pipe: start", sdeerr.Parameters)
	}
	if di.frameOpen {
		return sdeerr.New("pipe: start", sdeerr.Parameters)
	}
	for i := range m.pipes {
		p := &m.pipes[i]
		if p.ownerBlock == id && p.State == StateToRelease {
			p.State = StateIdle
			p.ownerBlock = 0
			p.reserved = false
			p.side = sideNone
		}
	}
	di.frameOpen = true
	di.frameCount++
	return nil
}

// Stop closes the frame opened by Start. Reservation bits survive until
// PostCommit confirms them or the next Acquire/Start recycles them.
func (m *Manager) Stop(id HWBlockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	di, ok := m.displays[id]
	if !ok || !di.frameOpen {
		return sdeerr.New("pipe: stop", sdeerr.Parameters)
	}
	di.frameOpen = false
	return nil
}

// Acquire assigns pipes to every hardware layer of hw that needs one,
// reserving left/right pipes for a dual-pipe split when a layer's
// destination width exceeds a single pipe's maximum. On any failure all
// reservations made during this call are rolled back and
// sdeerr.Resources is returned, mirroring the hardware core's
// Acquire_failed cleanup path.
func (m *Manager) Acquire(id HWBlockID, needs []LayerNeed) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.pipes {
		if m.pipes[i].ownerBlock == id {
			m.pipes[i].reserved = false
		}
	}

	var out []Assignment
	for _, n := range needs {
		left, err := m.getPipeLocked(id, n, sideLeft)
		if err != nil {
			m.clearReservationsLocked(id)
			return nil, err
		}
		asn := Assignment{LayerIndex: n.LayerIndex, Left: left.ID}
		if n.Split {
			right, err := m.getPipeLocked(id, n, sideRight)
			if err != nil {
				m.clearReservationsLocked(id)
				return nil, err
			}
			// The left mixer is scanned out first, so when both halves
			// land on VIG pipes the lower-priority (higher-preference)
			// pipe is kept on the left. Only VIG pairs are ever swapped.
			if left.Type == TypeVIG && right.Type == TypeVIG && right.Priority < left.Priority {
				left.side, right.side = sideRight, sideLeft
				asn.Left, asn.Right = right.ID, left.ID
			} else {
				asn.Right = right.ID
			}
		}
		out = append(out, asn)
	}
	return out, nil
}

func (m *Manager) clearReservationsLocked(id HWBlockID) {
	for i := range m.pipes {
		p := &m.pipes[i]
		if p.ownerBlock != id || !p.reserved {
			continue
		}
		p.reserved = false
		if p.State == StateReserved {
			p.State = StateIdle
			p.ownerBlock = 0
			p.side = sideNone
		} else if p.State == StateAcquired {
			p.side = p.prevSide
		}
	}
}

// LayerNeed describes what Acquire must find a pipe for: the source
// format (to pick VIG vs RGB/DMA), whether scaling is required, and
// whether the layer needs a left/right dual-pipe split.
type LayerNeed struct {
	LayerIndex int
	Format     layer.Format
	NeedScale  bool
	Split      bool
	// NonDMACapable is set when the layer uses a blend mode DMA pipes
	// cannot perform (e.g. a non-trivial blend curve), forcing RGB/VIG.
	NonDMACapable bool
}

// Assignment is the pipe ID(s) bound to one hardware layer.
type Assignment struct {
	LayerIndex int
	Left       int
	Right      int // 0 and unused unless the need was a Split
}

func (m *Manager) getPipeLocked(id HWBlockID, n LayerNeed, side splitSide) (*SourcePipe, error) {
	if p := m.nextPipeLocked(id, n, side); p != nil {
		return p, nil
	}
	return nil, sdeerr.New(fmt.Sprintf("pipe: acquire layer %d", n.LayerIndex), sdeerr.Resources)
}

// nextPipeLocked prefers a pipe already acquired by this display on the
// same side in a previous frame (pipe reuse avoids an unnecessary
// register reprogram), then falls back to selecting an Idle pipe of the
// right class — or one this display holds on the opposite side, which is
// as cheap to retarget as an idle one.
func (m *Manager) nextPipeLocked(id HWBlockID, n LayerNeed, side splitSide) *SourcePipe {
	for i := range m.pipes {
		p := &m.pipes[i]
		if p.ownerBlock == id && p.State == StateAcquired && !p.reserved && p.side == side && m.classMatches(p.Type, n) {
			p.reserved = true
			p.prevSide = p.side
			return p
		}
	}
	for _, t := range m.pipePreference(n) {
		for i := range m.pipes {
			p := &m.pipes[i]
			if p.Type != t || p.reserved {
				continue
			}
			switch {
			case p.State == StateIdle:
				p.ownerBlock = id
				p.State = StateReserved
			case p.State == StateAcquired && p.ownerBlock == id && p.side != side:
			default:
				continue
			}
			p.reserved = true
			p.prevSide = p.side
			p.side = side
			return p
		}
	}
	return nil
}

// classMatches reports whether a pipe of type t is capable of serving
// need n at all, independent of preference order; used only to accept
// reuse of a pipe this display already holds from a previous frame.
func (m *Manager) classMatches(t Type, n LayerNeed) bool {
	for _, pt := range m.pipePreference(n) {
		if pt == t {
			return true
		}
	}
	return false
}

// pipePreference implements the hardware core's GetPipe selection order:
// a YUV source needs a scaling (VIG) pipe and nothing else; everything
// else prefers DMA unless it needs scaling or a non-DMA blend. RGB comes
// next unless the layer needs scaling on hardware whose RGB pipes cannot
// scale, with VIG the universal fallback.
func (m *Manager) pipePreference(n LayerNeed) []Type {
	if n.Format.IsYUV() {
		return []Type{TypeVIG}
	}
	if !n.NeedScale && !n.NonDMACapable {
		return []Type{TypeDMA, TypeRGB, TypeVIG}
	}
	if n.NeedScale && m.nonScalarRGB {
		return []Type{TypeVIG}
	}
	return []Type{TypeRGB, TypeVIG}
}

// PostCommit confirms every pipe this display reserved this frame as
// Acquired, and marks any pipe this display previously held but did not
// reserve this frame for release on the next Start. On the primary
// display's first committed frame, any splash-owned pipe is also handed back.
func (m *Manager) PostCommit(id HWBlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	di, ok := m.displays[id]
	if !ok {
		return
	}
	for i := range m.pipes {
		p := &m.pipes[i]
		if p.ownerBlock != id {
			continue
		}
		if p.reserved {
			p.State = StateAcquired
			p.ownerFrame = di.frameCount
		} else if p.State == StateAcquired {
			p.State = StateToRelease
		}
	}
	// Splash handoff: only the primary display's first committed frame
	// reclaims pipes the bootloader left running.
	if !di.splashHandoffDone && id == m.primary {
		di.splashHandoffDone = true
		for i := range m.pipes {
			if m.pipes[i].State == StateOwnedByKernel {
				m.pipes[i].State = StateToRelease
				m.pipes[i].ownerBlock = id
			}
		}
	}
}

// Purge forcibly returns every pipe owned by id to Idle, used when a
// display is torn down outside the normal frame cycle.
func (m *Manager) Purge(id HWBlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(id)
}

func (m *Manager) purgeLocked(id HWBlockID) {
	for i := range m.pipes {
		if m.pipes[i].ownerBlock == id {
			m.pipes[i] = SourcePipe{ID: m.pipes[i].ID, Type: m.pipes[i].Type, Priority: m.pipes[i].Priority, State: StateIdle}
		}
	}
}

// Snapshot returns a copy of the inventory for diagnostics (cmd/sdectl).
func (m *Manager) Snapshot() []SourcePipe {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SourcePipe, len(m.pipes))
	copy(out, m.pipes)
	return out
}
