package hwdevice

import (
	"context"
	"sync"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// Simulated is an in-process HWInterface with no real graphics API
// dependency, used for unit tests and as the default backend when
// neither ebitenadaptor nor vkadaptor is wired up. It tracks committed
// plans and power state behind a RWMutex the same way the teacher's
// framebuffer-backed chips guard their double-buffered state, and
// produces real (already-signalled) fences on commit so the fence
// bookkeeping downstream runs against genuine descriptors.
type Simulated struct {
	caps Caps

	mu        sync.RWMutex
	power     PowerState
	videoMode bool
	writeback bool
	shutdown  bool

	failValidate sdeerr.Code
	failCommit   sdeerr.Code

	cursorX   int
	cursorY   int
	lastPlan  *layer.HWLayers
	lastDescs []LayerDescriptor
	flushed   bool
}

// NewSimulated builds a Simulated backend with caps, modelling a
// video-mode physical panel.
func NewSimulated(caps Caps) *Simulated {
	return &Simulated{caps: caps, power: PowerOff, videoMode: true}
}

func (s *Simulated) Caps() Caps { return s.caps }

// SetWriteback switches the backend between physical-panel and virtual
// (writeback) behavior: a writeback device requires an output buffer and
// never produces a retire fence.
func (s *Simulated) SetWriteback(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeback = on
}

// SetVideoMode switches the simulated panel between video and command
// mode; command mode strips async-cursor flags during marshalling.
func (s *Simulated) SetVideoMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoMode = on
}

// BeginShutdown makes every subsequent device call report ShutDown, the
// kernel-side teardown signal a caller must stop driving frames on.
func (s *Simulated) BeginShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
}

// FailNextValidate arms a one-shot failure for the next Validate call,
// for exercising the negotiation loop's retry path.
func (s *Simulated) FailNextValidate(code sdeerr.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failValidate = code
}

// FailNextCommit arms a one-shot failure for the next Commit call, for
// exercising the frame-loss path.
func (s *Simulated) FailNextCommit(code sdeerr.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = code
}

func (s *Simulated) Validate(_ context.Context, hw *layer.HWLayers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return sdeerr.New("hwdevice/simulated: validate", sdeerr.ShutDown)
	}
	if s.failValidate != sdeerr.None {
		code := s.failValidate
		s.failValidate = sdeerr.None
		return sdeerr.New("hwdevice/simulated: validate", code)
	}
	if hw == nil || hw.Stack == nil {
		return sdeerr.New("hwdevice/simulated: validate", sdeerr.Parameters)
	}
	if s.writeback && hw.Stack.OutputBuffer == nil {
		return sdeerr.New("hwdevice/simulated: validate: no output buffer", sdeerr.Hardware)
	}
	if _, _, err := MarshalPlan(hw, s.videoMode, false); err != nil {
		return sdeerr.Wrap("hwdevice/simulated: validate", sdeerr.Hardware, err)
	}
	return nil
}

func (s *Simulated) Commit(_ context.Context, hw *layer.HWLayers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return sdeerr.New("hwdevice/simulated: commit", sdeerr.ShutDown)
	}
	if s.failCommit != sdeerr.None {
		code := s.failCommit
		s.failCommit = sdeerr.None
		return sdeerr.New("hwdevice/simulated: commit", code)
	}
	if s.power == PowerOff {
		return sdeerr.New("hwdevice/simulated: commit", sdeerr.Permission)
	}
	descs, _, err := MarshalPlan(hw, s.videoMode, true)
	if err != nil {
		return sdeerr.Wrap("hwdevice/simulated: commit", sdeerr.Hardware, err)
	}

	retire, err := layer.NewSignalledFence()
	if err != nil {
		return sdeerr.Wrap("hwdevice/simulated: commit", sdeerr.FileDescriptor, err)
	}
	release, err := layer.NewSignalledFence()
	if err != nil {
		retire.Close()
		return sdeerr.Wrap("hwdevice/simulated: commit", sdeerr.FileDescriptor, err)
	}
	if err := SpreadFences(hw, retire, release, s.writeback); err != nil {
		return err
	}

	s.lastPlan = hw
	s.lastDescs = descs
	s.flushed = false
	return nil
}

// Flush stays legal during shutdown: abandoning a frame is part of
// teardown itself.
func (s *Simulated) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return nil
}

func (s *Simulated) SetPowerState(_ context.Context, state PowerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown && state != PowerOff {
		return sdeerr.New("hwdevice/simulated: setpowerstate", sdeerr.ShutDown)
	}
	s.power = state
	return nil
}

func (s *Simulated) SetCursorPosition(_ context.Context, x, y int) error {
	if !s.caps.SupportsCursor {
		return sdeerr.New("hwdevice/simulated: cursor", sdeerr.NotSupported)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorX, s.cursorY = x, y
	return nil
}

func (s *Simulated) GetColorModeCount(_ context.Context) (int, error) { return 1, nil }

func (s *Simulated) GetColorModes(_ context.Context) ([]string, error) {
	return []string{"native"}, nil
}

func (s *Simulated) SetColorMode(_ context.Context, _ string) error { return nil }

func (s *Simulated) SetColorTransform(_ context.Context, _ [16]float32) error { return nil }

// LastPlan returns the most recently committed plan, for tests.
func (s *Simulated) LastPlan() *layer.HWLayers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPlan
}

// LastDescriptors returns the descriptor list of the most recent commit,
// for tests.
func (s *Simulated) LastDescriptors() []LayerDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDescs
}

// PowerState reports the current power state, for tests.
func (s *Simulated) PowerState() PowerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.power
}
