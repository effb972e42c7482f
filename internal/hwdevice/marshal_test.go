package hwdevice

import (
	"context"
	"testing"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

func twoLayerPlan() *layer.HWLayers {
	stack := &layer.LayerStack{Layers: []layer.Layer{
		{Composition: layer.CompositionSDE, SrcCrop: layer.Rect{Right: 64, Bottom: 64}, DstRect: layer.Rect{Right: 64, Bottom: 64}},
		{Composition: layer.CompositionGPUTarget, SrcCrop: layer.Rect{Right: 64, Bottom: 64}, DstRect: layer.Rect{Right: 64, Bottom: 64}},
	}}
	return &layer.HWLayers{
		Stack: stack,
		Configs: []layer.HWLayerConfig{
			{LayerIndex: 0, ZOrder: 0,
				Left:  layer.PipeSide{Valid: true, PipeID: 1, SrcRect: layer.Rect{Right: 32, Bottom: 64}, DstRect: layer.Rect{Right: 32, Bottom: 64}},
				Right: layer.PipeSide{Valid: true, PipeID: 2, SubBlock: 1, SrcRect: layer.Rect{Left: 32, Right: 64, Bottom: 64}, DstRect: layer.Rect{Left: 32, Right: 64, Bottom: 64}}},
			{LayerIndex: 1, ZOrder: 1,
				Left: layer.PipeSide{Valid: true, PipeID: 3, SrcRect: layer.Rect{Right: 64, Bottom: 64}, DstRect: layer.Rect{Right: 64, Bottom: 64}}},
		},
	}
}

func TestSpreadFencesDedupsPerStackIndex(t *testing.T) {
	hw := twoLayerPlan()
	retire, err := layer.NewSignalledFence()
	if err != nil {
		t.Fatalf("NewSignalledFence: %v", err)
	}
	release, err := layer.NewSignalledFence()
	if err != nil {
		t.Fatalf("NewSignalledFence: %v", err)
	}

	if err := SpreadFences(hw, retire, release, false); err != nil {
		t.Fatalf("SpreadFences: %v", err)
	}

	stack := hw.Stack
	if stack.RetireFence.FD() < 0 {
		t.Fatalf("physical display should carry a retire fence")
	}
	if stack.SyncHandle.FD() < 0 {
		t.Fatalf("stack sync handle should be a live duplicate")
	}
	// Layer 0 is dual-pipe: two descriptors, one stack index, exactly one
	// duplicate.
	f0 := stack.Layers[0].Buffer.ReleaseFence
	f1 := stack.Layers[1].Buffer.ReleaseFence
	if f0.FD() < 0 || f1.FD() < 0 {
		t.Fatalf("both distinct stack indices should receive a release fence")
	}
	fds := map[int]bool{f0.FD(): true, f1.FD(): true, stack.SyncHandle.FD(): true}
	if len(fds) != 3 {
		t.Fatalf("duplicates must be independent descriptors, got %v", fds)
	}
	for _, f := range []*layer.Fence{f0, f1, stack.SyncHandle, stack.RetireFence} {
		if err := f.Wait(0); err != nil {
			t.Fatalf("duplicate should be signalled: %v", err)
		}
		f.Close()
	}
}

func TestSpreadFencesSkipsRotatorLayers(t *testing.T) {
	hw := twoLayerPlan()
	hw.Configs[0].RotatorNeeded = true
	retire, _ := layer.NewSignalledFence()
	release, _ := layer.NewSignalledFence()
	if err := SpreadFences(hw, retire, release, false); err != nil {
		t.Fatalf("SpreadFences: %v", err)
	}
	if hw.Stack.Layers[0].Buffer.ReleaseFence != nil {
		t.Fatalf("a rotator-served layer's release path runs through the session ring, not the device fence")
	}
	if hw.Stack.Layers[1].Buffer.ReleaseFence.FD() < 0 {
		t.Fatalf("the directly-read layer should still receive its duplicate")
	}
}

func TestSpreadFencesWritebackHasNoRetire(t *testing.T) {
	hw := twoLayerPlan()
	retire, _ := layer.NewSignalledFence()
	release, _ := layer.NewSignalledFence()
	if err := SpreadFences(hw, retire, release, true); err != nil {
		t.Fatalf("SpreadFences: %v", err)
	}
	if hw.Stack.RetireFence != nil {
		t.Fatalf("a writeback display never sets a retire fence")
	}
}

func TestMarshalPlanIntegerizesDstROI(t *testing.T) {
	hw := twoLayerPlan()
	hw.Configs[1].Left.DstRect = layer.Rect{Left: 0.5, Top: 0.5, Right: 100.25, Bottom: 60.75}
	descs, _, err := MarshalPlan(hw, true, false)
	if err != nil {
		t.Fatalf("MarshalPlan: %v", err)
	}
	d := descs[len(descs)-1]
	if d.DstLeft != 1 || d.DstTop != 1 || d.DstWidth != 99 || d.DstHeight != 59 {
		t.Fatalf("dst ROI = (%d,%d %dx%d), want ceil/floor (1,1 99x59)", d.DstLeft, d.DstTop, d.DstWidth, d.DstHeight)
	}
}

func TestMarshalPlanSuppressesFlipsAndAsyncCursor(t *testing.T) {
	hw := twoLayerPlan()
	hw.Configs[0].RotatorNeeded = true
	hw.Configs[0].Left.Flags = layer.PipeFlagFlipHorizontal | layer.PipeFlagFlipVertical
	hw.Configs[1].Left.Flags = layer.PipeFlagAsyncCursor

	descs, _, err := MarshalPlan(hw, false, false) // command mode
	if err != nil {
		t.Fatalf("MarshalPlan: %v", err)
	}
	if descs[0].Flags&(layer.PipeFlagFlipHorizontal|layer.PipeFlagFlipVertical) != 0 {
		t.Fatalf("rotator-served layer must not carry flip flags; the rotator already flipped")
	}
	last := descs[len(descs)-1]
	if last.Flags&layer.PipeFlagAsyncCursor != 0 {
		t.Fatalf("async cursor flag must be stripped on a command-mode panel")
	}
}

func TestSimulatedShutdownSurfacesShutDown(t *testing.T) {
	s := NewSimulated(Caps{})
	ctx := context.Background()
	if err := s.SetPowerState(ctx, PowerOn); err != nil {
		t.Fatalf("SetPowerState: %v", err)
	}
	s.BeginShutdown()

	hw := twoLayerPlan()
	if code := sdeerr.CodeOf(s.Validate(ctx, hw)); code != sdeerr.ShutDown {
		t.Fatalf("Validate during shutdown = %v, want ShutDown", code)
	}
	if code := sdeerr.CodeOf(s.Commit(ctx, hw)); code != sdeerr.ShutDown {
		t.Fatalf("Commit during shutdown = %v, want ShutDown", code)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush during shutdown should still succeed: %v", err)
	}
	if err := s.SetPowerState(ctx, PowerOff); err != nil {
		t.Fatalf("powering off during shutdown should still succeed: %v", err)
	}
}

func TestSimulatedValidateRejectsWritebackWithoutOutputBuffer(t *testing.T) {
	s := NewSimulated(Caps{})
	s.SetWriteback(true)
	hw := twoLayerPlan()
	if code := sdeerr.CodeOf(s.Validate(context.Background(), hw)); code != sdeerr.Hardware {
		t.Fatalf("writeback validate without output buffer = %v, want Hardware", code)
	}
}
