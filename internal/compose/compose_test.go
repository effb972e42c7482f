package compose

import (
	"testing"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/pipe"
	"github.com/sdecore/sde/internal/strategy"
)

func testLimits() pipe.ScaleLimits {
	return pipe.ScaleLimits{
		MaxSourceWidth: 2048, MaxInterfaceW: 2048,
		MaxScaleDown: 4, MaxScaleDownDec: 8, MaxScaleUp: 20,
	}
}

func simpleResolver(hw *layer.HWLayers, limits pipe.ScaleLimits) ([]pipe.LayerNeed, error) {
	needs := make([]pipe.LayerNeed, 0, len(hw.Configs))
	for _, cfg := range hw.Configs {
		l := hw.Stack.Layers[cfg.LayerIndex]
		needs = append(needs, pipe.LayerNeed{LayerIndex: cfg.LayerIndex, Format: l.Buffer.Format})
	}
	return needs, nil
}

// recordingStrategy wraps a Strategy and keeps the Constraints of its
// most recent GetNextStrategy call.
type recordingStrategy struct {
	strategy.Strategy
	last strategy.Constraints
}

func (r *recordingStrategy) GetNextStrategy(c strategy.Constraints, hw *layer.HWLayers) error {
	r.last = c
	return r.Strategy.GetNextStrategy(c, hw)
}

func TestRegisterDisplayForcesSafeMode(t *testing.T) {
	res := pipe.NewManager(pipe.Inventory{RGB: 2})
	m := NewManager(res, simpleResolver, nil)
	m.RegisterDisplay(0, strategy.NewDefault(), testLimits())
	if !m.SafeMode() {
		t.Fatalf("registering a display should engage safe mode")
	}
}

func TestPrepareAndPostCommitClearsSafeMode(t *testing.T) {
	res := pipe.NewManager(pipe.Inventory{RGB: 2})
	m := NewManager(res, simpleResolver, nil)
	m.RegisterDisplay(0, strategy.NewDefault(), testLimits())

	stack := &layer.LayerStack{Layers: []layer.Layer{
		{Composition: layer.CompositionGPUTarget, SrcCrop: layer.Rect{Right: 100, Bottom: 100}, DstRect: layer.Rect{Right: 100, Bottom: 100}},
	}}
	hw := &layer.HWLayers{Stack: stack}

	if err := m.Prepare(0, hw, strategy.Constraints{}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	m.PostCommit(0)
	if m.SafeMode() {
		t.Fatalf("safe mode should clear once every registered display has configured")
	}
}

func TestPrepareSucceedsAcrossMultipleFrames(t *testing.T) {
	res := pipe.NewManager(pipe.Inventory{RGB: 2})
	m := NewManager(res, simpleResolver, nil)
	m.RegisterDisplay(0, strategy.NewDefault(), testLimits())

	newStack := func() *layer.LayerStack {
		return &layer.LayerStack{Layers: []layer.Layer{
			{Composition: layer.CompositionGPUTarget, SrcCrop: layer.Rect{Right: 100, Bottom: 100}, DstRect: layer.Rect{Right: 100, Bottom: 100}},
		}}
	}

	for frame := 0; frame < 3; frame++ {
		hw := &layer.HWLayers{Stack: newStack()}
		if err := m.Prepare(0, hw, strategy.Constraints{}); err != nil {
			t.Fatalf("frame %d: Prepare: %v", frame, err)
		}
		m.PostCommit(0)
	}
}

func TestIdleFallbackForcesSafeModeThenClears(t *testing.T) {
	res := pipe.NewManager(pipe.Inventory{RGB: 2})
	m := NewManager(res, simpleResolver, nil)
	rec := &recordingStrategy{Strategy: strategy.NewDefault()}
	m.RegisterDisplay(0, rec, testLimits())
	m.PostCommit(0) // clear the registration-time safe mode for this test

	m.NotifyIdleTimeout(0)

	stack := &layer.LayerStack{Layers: []layer.Layer{
		{Composition: layer.CompositionSDE, SrcCrop: layer.Rect{Right: 10, Bottom: 10}, DstRect: layer.Rect{Right: 10, Bottom: 10}},
		{Composition: layer.CompositionSDE, SrcCrop: layer.Rect{Right: 10, Bottom: 10}, DstRect: layer.Rect{Right: 10, Bottom: 10}},
		{Composition: layer.CompositionGPUTarget, SrcCrop: layer.Rect{Right: 100, Bottom: 100}, DstRect: layer.Rect{Right: 100, Bottom: 100}},
	}}
	hw := &layer.HWLayers{Stack: stack}
	if err := m.Prepare(0, hw, strategy.Constraints{}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !rec.last.SafeMode {
		t.Fatalf("idle fallback should force safe mode on the next Prepare")
	}
	m.PostCommit(0)

	// The latch is one-shot: a second frame with no new idle event must
	// not be forced into safe mode by a stale latch.
	if m.idleLatch[0] {
		t.Fatalf("idle latch should be cleared by PostCommit")
	}
}

func TestThermalFallbackForcesSafeMode(t *testing.T) {
	res := pipe.NewManager(pipe.Inventory{RGB: 2})
	m := NewManager(res, simpleResolver, nil)
	rec := &recordingStrategy{Strategy: strategy.NewDefault()}
	m.RegisterDisplay(0, rec, testLimits())
	m.PostCommit(0)

	stack := func() *layer.LayerStack {
		return &layer.LayerStack{Layers: []layer.Layer{
			{Composition: layer.CompositionGPUTarget, SrcCrop: layer.Rect{Right: 100, Bottom: 100}, DstRect: layer.Rect{Right: 100, Bottom: 100}},
		}}
	}

	m.NotifyThermalLevel(3)
	if !m.thermalFallback {
		t.Fatalf("level 3 should arm thermal fallback")
	}
	if err := m.Prepare(0, &layer.HWLayers{Stack: stack()}, strategy.Constraints{}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !rec.last.SafeMode {
		t.Fatalf("armed thermal fallback should force safe mode")
	}
	m.PostCommit(0)

	m.NotifyThermalLevel(1)
	if m.thermalFallback {
		t.Fatalf("level below threshold should disarm thermal fallback")
	}
	if err := m.Prepare(0, &layer.HWLayers{Stack: stack()}, strategy.Constraints{}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if rec.last.SafeMode {
		t.Fatalf("disarmed thermal fallback should not force safe mode")
	}
}

func TestPrepareMultipleDisplaysOnlyClearsSafeModeWhenAllConfigured(t *testing.T) {
	res := pipe.NewManager(pipe.Inventory{RGB: 4})
	m := NewManager(res, simpleResolver, nil)
	m.RegisterDisplay(0, strategy.NewDefault(), testLimits())
	m.RegisterDisplay(1, strategy.NewDefault(), testLimits())

	stack := func() *layer.LayerStack {
		return &layer.LayerStack{Layers: []layer.Layer{
			{Composition: layer.CompositionGPUTarget, SrcCrop: layer.Rect{Right: 100, Bottom: 100}, DstRect: layer.Rect{Right: 100, Bottom: 100}},
		}}
	}

	hw0 := &layer.HWLayers{Stack: stack()}
	if err := m.Prepare(0, hw0, strategy.Constraints{}); err != nil {
		t.Fatalf("Prepare(0): %v", err)
	}
	m.PostCommit(0)
	if !m.SafeMode() {
		t.Fatalf("safe mode should remain engaged until display 1 also configures")
	}

	hw1 := &layer.HWLayers{Stack: stack()}
	if err := m.Prepare(1, hw1, strategy.Constraints{}); err != nil {
		t.Fatalf("Prepare(1): %v", err)
	}
	m.PostCommit(1)
	if m.SafeMode() {
		t.Fatalf("safe mode should clear once both displays have configured")
	}
}
