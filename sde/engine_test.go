package sde

import (
	"context"
	"testing"

	"github.com/sdecore/sde/internal/display"
	"github.com/sdecore/sde/internal/hwdevice"
	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/pipe"
	"github.com/sdecore/sde/internal/strategy"
)

func testResolver(hw *layer.HWLayers, limits pipe.ScaleLimits) ([]pipe.LayerNeed, error) {
	needs := make([]pipe.LayerNeed, 0, len(hw.Configs))
	for _, cfg := range hw.Configs {
		needs = append(needs, pipe.LayerNeed{LayerIndex: cfg.LayerIndex})
	}
	return needs, nil
}

func testLimits() pipe.ScaleLimits {
	return pipe.ScaleLimits{MaxInterfaceW: 2048, MaxScaleUp: 20, MaxScaleDown: 4, MaxScaleDownDec: 8, MaxSourceWidth: 2048}
}

type recordingHandler struct {
	DefaultEventHandler
	hotplugs []bool
}

func (r *recordingHandler) OnHotplug(kind display.Kind, connected bool) {
	r.hotplugs = append(r.hotplugs, connected)
}

func TestEngineRegisterAndFrameCycle(t *testing.T) {
	e := New(pipe.Inventory{RGB: 2, Cursor: 1}, 1, 2, nil, testResolver)

	sim := hwdevice.NewSimulated(hwdevice.Caps{SupportsCursor: true})
	ctrl, err := e.RegisterDisplay(display.KindPrimary, sim, strategy.NewDefault(), testLimits())
	if err != nil {
		t.Fatalf("RegisterDisplay: %v", err)
	}
	if !e.SafeMode() {
		t.Fatalf("registering the first display should engage safe mode")
	}

	ctx := context.Background()
	if err := ctrl.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ctrl.SetDisplayState(ctx, hwdevice.PowerOn); err != nil {
		t.Fatalf("SetDisplayState: %v", err)
	}

	stack := &layer.LayerStack{Layers: []layer.Layer{
		{Composition: layer.CompositionGPUTarget, SrcCrop: layer.Rect{Right: 32, Bottom: 32}, DstRect: layer.Rect{Right: 32, Bottom: 32}},
	}}
	hw, err := ctrl.Prepare(ctx, stack)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ctrl.Commit(ctx, hw); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := ctrl.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if e.SafeMode() {
		t.Fatalf("safe mode should clear after the sole registered display configures")
	}
}

func TestEngineHandleHotplugRejectsPrimary(t *testing.T) {
	e := New(pipe.Inventory{RGB: 2}, 1, 2, nil, testResolver)
	sim := hwdevice.NewSimulated(hwdevice.Caps{})
	err := e.HandleHotplug(context.Background(), display.KindPrimary, true, sim, strategy.NewDefault(), testLimits())
	if err == nil {
		t.Fatalf("hotplug of the primary display should be rejected")
	}
}

func TestEngineHandleHotplugHDMI(t *testing.T) {
	handler := &recordingHandler{}
	e := New(pipe.Inventory{RGB: 4}, 1, 2, nil, testResolver, WithEventHandler(handler))

	sim := hwdevice.NewSimulated(hwdevice.Caps{})
	if err := e.HandleHotplug(context.Background(), display.KindHDMI, true, sim, strategy.NewDefault(), testLimits()); err != nil {
		t.Fatalf("HandleHotplug(connect): %v", err)
	}
	if len(handler.hotplugs) != 1 || !handler.hotplugs[0] {
		t.Fatalf("expected one connect event, got %+v", handler.hotplugs)
	}

	var target pipe.HWBlockID
	found := false
	for id, ctrl := range e.displays {
		if ctrl.Kind() == display.KindHDMI {
			target, found = id, true
		}
	}
	if !found {
		t.Fatalf("HDMI display not found after hotplug")
	}

	if err := e.HandleHotplug(context.Background(), display.KindHDMI, false, sim, strategy.NewDefault(), testLimits()); err != nil {
		t.Fatalf("HandleHotplug(disconnect): %v", err)
	}
	if _, ok := e.Display(target); ok {
		t.Fatalf("HDMI display should be unregistered after disconnect")
	}
	if len(handler.hotplugs) != 2 || handler.hotplugs[1] {
		t.Fatalf("expected a disconnect event, got %+v", handler.hotplugs)
	}
}
