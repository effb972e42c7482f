// Package sde is the public entry point: it wires the resource, rotator,
// strategy and composition managers together into an Engine, owns the
// lock that serializes display registration, unregistration and lookup
// (a display.Controller's frame calls do not take it), and dispatches
// the event callbacks a caller registers (hotplug, vsync, refresh, idle
// timeout, thermal, CEC).
package sde

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sdecore/sde/internal/compose"
	"github.com/sdecore/sde/internal/display"
	"github.com/sdecore/sde/internal/hwdevice"
	"github.com/sdecore/sde/internal/pipe"
	"github.com/sdecore/sde/internal/rotator"
	"github.com/sdecore/sde/internal/sdeerr"
	"github.com/sdecore/sde/internal/strategy"
)

// EventHandler is implemented by a caller that wants to observe engine
// events. Every method is optional in spirit: embed DefaultEventHandler
// to pick up no-op implementations for the ones you don't care about.
type EventHandler interface {
	OnHotplug(kind display.Kind, connected bool)
	OnVSync(id pipe.HWBlockID, timestampNanos int64)
	OnRefresh(id pipe.HWBlockID)
	OnIdleTimeout(id pipe.HWBlockID)
	OnThermalEvent(level int)
	OnCECMessage(msg []byte)
}

// DefaultEventHandler implements EventHandler with no-ops so embedders
// only need to override the callbacks they use.
type DefaultEventHandler struct{}

func (DefaultEventHandler) OnHotplug(display.Kind, bool)             {}
func (DefaultEventHandler) OnVSync(pipe.HWBlockID, int64)            {}
func (DefaultEventHandler) OnRefresh(pipe.HWBlockID)                 {}
func (DefaultEventHandler) OnIdleTimeout(pipe.HWBlockID)             {}
func (DefaultEventHandler) OnThermalEvent(int)                       {}
func (DefaultEventHandler) OnCECMessage([]byte)                      {}

// Engine is the composition core's top-level handle: one per process,
// shared by every display it registers. The lock is recursive in spirit
// (a single goroutine-affine critical section per engine) because a
// display callback invoked while the lock is held — e.g. a hotplug
// handler calling back into RegisterDisplay — must not deadlock against
// itself; Go's sync.Mutex is not reentrant, so reentrant calls are
// modeled as explicit sub-operations below rather than nested locking.
type Engine struct {
	mu  sync.Mutex
	log *log.Logger

	res   *pipe.Manager
	comp  *compose.Manager
	rot   *rotator.Manager

	displays   map[pipe.HWBlockID]*display.Controller
	nextBlock  pipe.HWBlockID
	handler    EventHandler
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithEventHandler registers the callback sink for engine events.
func WithEventHandler(h EventHandler) Option {
	return func(e *Engine) { e.handler = h }
}

// New builds an Engine around a shared pipe inventory and rotator pool.
func New(inv pipe.Inventory, rotatorSessions, rotatorBuffers int, rotHWFactory func() rotator.HWSession, resolver compose.NeedsResolver, opts ...Option) *Engine {
	e := &Engine{
		res:      pipe.NewManager(inv),
		rot:      rotator.NewManager(rotatorSessions, rotatorBuffers, rotHWFactory),
		displays: make(map[pipe.HWBlockID]*display.Controller),
		handler:  DefaultEventHandler{},
		log:      log.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.comp = compose.NewManager(e.res, resolver, e.log)
	return e
}

// RegisterDisplay admits a new display, builds its Controller, and
// registers it with the composition manager (which re-arms safe-mode for
// every display as the original core does on any new registration).
func (e *Engine) RegisterDisplay(kind display.Kind, hw hwdevice.HWInterface, strat strategy.Strategy, limits pipe.ScaleLimits, opts ...display.Option) (*display.Controller, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextBlock
	e.nextBlock++
	e.comp.RegisterDisplay(id, strat, limits)
	if kind == display.KindPrimary {
		e.res.MarkPrimary(id)
	}
	ctrl := display.New(id, kind, hw, e.comp, e.rot, e.log, opts...)
	e.displays[id] = ctrl
	return ctrl, nil
}

// UnregisterDisplay tears down a display's Controller and releases its
// pipes back to the shared pool.
func (e *Engine) UnregisterDisplay(id pipe.HWBlockID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctrl, ok := e.displays[id]
	if !ok {
		return sdeerr.New("engine: unregister", sdeerr.Parameters)
	}
	ctrl.Purge()
	e.comp.UnregisterDisplay(id)
	delete(e.displays, id)
	return nil
}

// HandleHotplug registers or unregisters a non-primary display in
// response to a physical connect/disconnect event, and notifies the
// event handler. It recomputes safe-mode implicitly: RegisterDisplay and
// UnregisterDisplay both already do so via the composition manager.
func (e *Engine) HandleHotplug(ctx context.Context, kind display.Kind, connected bool, hw hwdevice.HWInterface, strat strategy.Strategy, limits pipe.ScaleLimits, opts ...display.Option) error {
	if kind == display.KindPrimary {
		return sdeerr.New("engine: handlehotplug", sdeerr.Parameters)
	}
	if connected {
		ctrl, err := e.RegisterDisplay(kind, hw, strat, limits, opts...)
		if err != nil {
			return err
		}
		if err := ctrl.Init(ctx); err != nil {
			return fmt.Errorf("engine: hotplug init: %w", err)
		}
	} else {
		var target pipe.HWBlockID
		var found bool
		e.mu.Lock()
		for id, ctrl := range e.displays {
			if ctrl.Kind() == kind {
				target, found = id, true
				break
			}
		}
		e.mu.Unlock()
		if !found {
			return sdeerr.New("engine: handlehotplug", sdeerr.Parameters)
		}
		if err := e.UnregisterDisplay(target); err != nil {
			return err
		}
	}
	e.handler.OnHotplug(kind, connected)
	return nil
}

// Display returns the Controller for id, if registered.
func (e *Engine) Display(id pipe.HWBlockID) (*display.Controller, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.displays[id]
	return c, ok
}

// SafeMode reports the engine-wide safe-mode bit.
func (e *Engine) SafeMode() bool { return e.comp.SafeMode() }

// Pipes returns a diagnostic snapshot of the shared pipe inventory.
func (e *Engine) Pipes() []pipe.SourcePipe { return e.res.Snapshot() }

// Rotators returns a diagnostic snapshot of the rotator session pool.
func (e *Engine) Rotators() []string { return e.rot.Snapshot() }

// NotifyVSync forwards a vsync tick from a backend to the registered
// handler; backends call this from their own frame-driving goroutine
// (see hwdevice/ebitenadaptor).
func (e *Engine) NotifyVSync(id pipe.HWBlockID, timestampNanos int64) {
	e.handler.OnVSync(id, timestampNanos)
}

// NotifyThermalEvent forwards a thermal throttling level change and
// arms/disarms the engine-wide thermal safe-mode fallback.
func (e *Engine) NotifyThermalEvent(level int) {
	e.comp.NotifyThermalLevel(level)
	e.handler.OnThermalEvent(level)
}

// NotifyIdleTimeout latches id's idle-fallback bit (consumed by that
// display's next Prepare) and forwards the event to the handler. The
// event source calls this between frames when a display's idle timer
// fires; command-mode panels never generate it (spec.md §6).
func (e *Engine) NotifyIdleTimeout(id pipe.HWBlockID) {
	e.comp.NotifyIdleTimeout(id)
	e.handler.OnIdleTimeout(id)
}
