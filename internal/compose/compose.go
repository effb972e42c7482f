// Package compose implements the composition manager: it drives the
// strategy loop for one display's frame, hands the winning candidate to
// the resource manager to acquire pipes for, and tracks the engine-wide
// safe-mode bit that every registered display shares.
package compose

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/pipe"
	"github.com/sdecore/sde/internal/sdeerr"
	"github.com/sdecore/sde/internal/strategy"
)

// NeedsResolver turns a resolved HWLayers plan into the pipe.LayerNeed
// list the resource manager acquires against; it is supplied by the
// display package, which knows the per-layer scaling limits.
type NeedsResolver func(hw *layer.HWLayers, limits pipe.ScaleLimits) ([]pipe.LayerNeed, error)

// Manager coordinates the strategy loop across every registered display
// and owns the engine-wide safe-mode bit.
type Manager struct {
	mu  sync.Mutex
	res *pipe.Manager
	log *log.Logger

	registered map[pipe.HWBlockID]bool
	configured map[pipe.HWBlockID]bool
	safeMode   bool

	strategies map[pipe.HWBlockID]strategy.Strategy
	limits     map[pipe.HWBlockID]pipe.ScaleLimits
	resolver   NeedsResolver

	// idleLatch is set by the event source between frames when a
	// display's idle timer fires, and consumed (forcing safe-mode on that
	// display's Prepare calls until its next PostCommit clears it) per §4.6.
	idleLatch map[pipe.HWBlockID]bool
	// thermalFallback is engine-wide: one thermal sensor's level crossing
	// kMaxThermalLevel (3, per spec.md §9.2's resolved Open Question)
	// forces safe-mode on every display until the level drops back down.
	thermalFallback bool
}

// NewManager builds a composition manager bound to res. logger defaults
// to log.Default() when nil, matching the teacher's habit of never
// requiring a caller to supply one.
func NewManager(res *pipe.Manager, resolver NeedsResolver, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		res:        res,
		log:        logger,
		registered: make(map[pipe.HWBlockID]bool),
		configured: make(map[pipe.HWBlockID]bool),
		strategies: make(map[pipe.HWBlockID]strategy.Strategy),
		limits:     make(map[pipe.HWBlockID]pipe.ScaleLimits),
		resolver:   resolver,
		idleLatch:  make(map[pipe.HWBlockID]bool),
	}
}

// RegisterDisplay admits id with its per-display strategy and scale
// limits, and forces safe-mode on for every display until every
// registered display has configured at least one successful frame —
// exactly the hardware core's "any new registration re-arms safe mode"
// rule.
func (m *Manager) RegisterDisplay(id pipe.HWBlockID, strat strategy.Strategy, limits pipe.ScaleLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.res.RegisterDisplay(id)
	m.registered[id] = true
	m.strategies[id] = strat
	m.limits[id] = limits
	m.safeMode = true
	m.log.Printf("compose: display %d registered, safe mode engaged", id)
}

// UnregisterDisplay removes id from the pool and clears safe-mode if every
// display still registered has configured successfully.
func (m *Manager) UnregisterDisplay(id pipe.HWBlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.res.UnregisterDisplay(id)
	delete(m.registered, id)
	delete(m.configured, id)
	delete(m.strategies, id)
	delete(m.limits, id)
	if len(m.configured) == len(m.registered) && m.safeMode {
		m.safeMode = false
		m.log.Printf("compose: display %d unregistered, safe mode cleared", id)
	}
}

// Prepare resolves hw for display id: it consults the display's
// strategy for up to strategy.MaxAttempts candidates, attempting to
// acquire pipes for each until one succeeds, forcing safe-mode-only
// (GPU-everything) plans when hw carries a prior validation failure. A
// strategy other than Default that ends without a usable plan is followed
// by one attempt of the Default plan.
func (m *Manager) Prepare(id pipe.HWBlockID, hw *layer.HWLayers, c strategy.Constraints) error {
	m.mu.Lock()
	strat, ok := m.strategies[id]
	limits := m.limits[id]
	idle := m.idleLatch[id] && countAppLayers(hw.Stack) > 1
	c.IdleFallback = c.IdleFallback || idle
	c.SafeMode = c.SafeMode || m.safeMode || hw.ValidationErr || m.thermalFallback || c.IdleFallback
	m.mu.Unlock()
	if !ok {
		return sdeerr.New("compose: prepare", sdeerr.Parameters)
	}
	strat.Reset()

	if err := m.res.Start(id); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < strategy.MaxAttempts; attempt++ {
		if err := strat.GetNextStrategy(c, hw); err != nil {
			lastErr = err
			break
		}
		needs, err := m.resolveNeedsConcurrently(hw, limits)
		if err != nil {
			lastErr = err
			continue
		}
		asn, err := m.res.Acquire(id, needs)
		if err != nil {
			lastErr = err
			continue
		}
		applyAssignments(hw, needs, asn)
		lastErr = nil
		break
	}
	if _, isDefault := strat.(*strategy.Default); lastErr != nil && !isDefault {
		if err := strategy.NewDefault().GetNextStrategy(c, hw); err != nil {
			lastErr = err
		} else if needs, err := m.resolveNeedsConcurrently(hw, limits); err != nil {
			lastErr = err
		} else if asn, err := m.res.Acquire(id, needs); err != nil {
			lastErr = err
		} else {
			applyAssignments(hw, needs, asn)
			lastErr = nil
		}
	}

	if stopErr := m.res.Stop(id); stopErr != nil && lastErr == nil {
		lastErr = stopErr
	}
	if lastErr != nil {
		return fmt.Errorf("compose: prepare display %d: %w", id, lastErr)
	}
	return nil
}

// resolveNeedsConcurrently validates every layer's scaling requirements
// concurrently via errgroup, the bounded worker-pool shape this package
// uses for a strategy candidate's per-layer scan rather than a manual
// WaitGroup, since the set of layers is already known up front and any
// single layer's failure should cancel the rest of the scan.
func (m *Manager) resolveNeedsConcurrently(hw *layer.HWLayers, limits pipe.ScaleLimits) ([]pipe.LayerNeed, error) {
	needs, err := m.resolver(hw, limits)
	if err != nil {
		return nil, err
	}
	g, ctx := errgroup.WithContext(context.Background())
	for i := range needs {
		n := needs[i]
		l := &hw.Stack.Layers[n.LayerIndex]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return pipe.IsValidDimension(l, limits, false)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, sdeerr.Wrap("compose: scale validation", sdeerr.Parameters, err)
	}
	return needs, nil
}

// applyAssignments threads the resource manager's pipe Assignment back
// into the matching HWLayerConfig entries, per §4.2's marshalling rules:
// an integer (ceil/floor) dst ROI, the scale ratio implied by src vs.
// dst, and flip flags taken from the layer's transform. needs and asn
// are the same length and order (Acquire appends one Assignment per
// LayerNeed in the order it was given), so they are zipped by index
// rather than re-matched by LayerIndex.
func applyAssignments(hw *layer.HWLayers, needs []pipe.LayerNeed, asn []pipe.Assignment) {
	for k, a := range asn {
		for i := range hw.Configs {
			if hw.Configs[i].LayerIndex != a.LayerIndex {
				continue
			}
			cfg := &hw.Configs[i]
			l := &hw.Stack.Layers[a.LayerIndex]
			l.ZOrder = cfg.ZOrder

			dst := pipe.IntegerizeDst(l.DstRect)
			sx, sy := scaleRatio(l.SrcCrop, dst)
			flags := flipFlags(l.Transform)

			if k < len(needs) && needs[k].Split {
				// A dual-pipe layer's halves tile the dst with no gap or
				// overlap, each fetching the matching half of the crop.
				srcMid := (l.SrcCrop.Left + l.SrcCrop.Right) / 2
				dstMid := float32(int((dst.Left + dst.Right) / 2))
				cfg.Left = layer.PipeSide{
					Valid: true, PipeID: a.Left,
					SrcRect: layer.Rect{Left: l.SrcCrop.Left, Top: l.SrcCrop.Top, Right: srcMid, Bottom: l.SrcCrop.Bottom},
					DstRect: layer.Rect{Left: dst.Left, Top: dst.Top, Right: dstMid, Bottom: dst.Bottom},
					ScaleX:  sx, ScaleY: sy, Flags: flags,
				}
				cfg.Right = layer.PipeSide{
					Valid: true, PipeID: a.Right, SubBlock: 1,
					SrcRect: layer.Rect{Left: srcMid, Top: l.SrcCrop.Top, Right: l.SrcCrop.Right, Bottom: l.SrcCrop.Bottom},
					DstRect: layer.Rect{Left: dstMid, Top: dst.Top, Right: dst.Right, Bottom: dst.Bottom},
					ScaleX:  sx, ScaleY: sy, Flags: flags,
				}
			} else {
				cfg.Left = layer.PipeSide{
					Valid: true, PipeID: a.Left,
					SrcRect: l.SrcCrop, DstRect: dst,
					ScaleX: sx, ScaleY: sy, Flags: flags,
				}
			}
			break
		}
	}
}

// flipFlags translates a layer's orientation into the pipe marshalling
// flags, suppressed later by the display controller when a rotator
// session serves the layer (the rotator handles flip itself, §4.2).
func flipFlags(t layer.Transform) uint32 {
	var f uint32
	if t.FlipHorizontal {
		f |= layer.PipeFlagFlipHorizontal
	}
	if t.FlipVertical {
		f |= layer.PipeFlagFlipVertical
	}
	return f
}

// scaleRatio reports the crop/dst ratio the pipe's scaler registers
// would be programmed with; zero when the dst is degenerate (already
// rejected earlier by pipe.IsValidDimension, but defensive here too).
func scaleRatio(src, dst layer.Rect) (float32, float32) {
	dw, dh := dst.Width(), dst.Height()
	if dw <= 0 || dh <= 0 {
		return 0, 0
	}
	return src.Width() / dw, src.Height() / dh
}

// PostCommit confirms the frame's pipe assignments, clears id's idle
// latch, and, once every registered
// display has configured successfully, clears safe-mode for the whole
// engine.
func (m *Manager) PostCommit(id pipe.HWBlockID) {
	m.res.PostCommit(id)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured[id] = true
	delete(m.idleLatch, id)
	if len(m.configured) == len(m.registered) && m.safeMode {
		m.safeMode = false
		m.log.Printf("compose: all displays configured, safe mode cleared")
	}
}

// NotifyIdleTimeout latches id's idle-fallback bit; the next Prepare for
// id forces safe-mode (provided the stack has more than one app layer)
// and the latch is cleared on that frame's PostCommit.
func (m *Manager) NotifyIdleTimeout(id pipe.HWBlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleLatch[id] = true
}

// NotifyThermalLevel raises or clears the engine-wide thermal fallback
// bit; level >= 3 (kMaxThermalLevel, per spec.md §9.2) forces every
// display's next Prepare to safe-mode until the level drops back below
// the threshold.
func (m *Manager) NotifyThermalLevel(level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thermalFallback = level >= 3
}

// countAppLayers reports how many non-target layers the stack carries,
// the "app layer count" the idle-fallback rule gates on.
func countAppLayers(stack *layer.LayerStack) int {
	n := 0
	for _, l := range stack.Layers {
		if l.Composition != layer.CompositionGPUTarget && l.Composition != layer.CompositionBlitTarget {
			n++
		}
	}
	return n
}

// Purge forces a display's pipes back to idle outside the normal cycle.
func (m *Manager) Purge(id pipe.HWBlockID) {
	m.res.Purge(id)
}

// SafeMode reports the engine-wide safe-mode bit.
func (m *Manager) SafeMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safeMode
}
