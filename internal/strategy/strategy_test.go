package strategy

import (
	"testing"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

func TestDefaultRequiresExactlyOneGPUTarget(t *testing.T) {
	stack := &layer.LayerStack{Layers: []layer.Layer{
		{Composition: layer.CompositionSDE},
		{Composition: layer.CompositionSDE},
	}}
	hw := &layer.HWLayers{Stack: stack}
	d := NewDefault()
	if err := d.GetNextStrategy(Constraints{}, hw); sdeerr.CodeOf(err) != sdeerr.Parameters {
		t.Fatalf("expected Parameters error with no gpu target, got %v", err)
	}
}

func TestDefaultMarksEverythingElseGPU(t *testing.T) {
	stack := &layer.LayerStack{Layers: []layer.Layer{
		{Composition: layer.CompositionSDE},
		{Composition: layer.CompositionGPUTarget},
	}}
	hw := &layer.HWLayers{Stack: stack}
	d := NewDefault()
	if err := d.GetNextStrategy(Constraints{}, hw); err != nil {
		t.Fatalf("GetNextStrategy: %v", err)
	}
	if stack.Layers[0].Composition != layer.CompositionGPU {
		t.Fatalf("non-target layer should be forced to GPU composition")
	}
	if len(hw.Configs) != 1 || hw.Configs[0].LayerIndex != 1 {
		t.Fatalf("hw.Configs should contain exactly the gpu target layer, got %+v", hw.Configs)
	}
	if !hw.NeedsGPU {
		t.Fatalf("NeedsGPU should be set")
	}
}

func TestDefaultExhaustsAfterOneAttempt(t *testing.T) {
	stack := &layer.LayerStack{Layers: []layer.Layer{{Composition: layer.CompositionGPUTarget}}}
	hw := &layer.HWLayers{Stack: stack}
	d := NewDefault()
	if err := d.GetNextStrategy(Constraints{}, hw); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if err := d.GetNextStrategy(Constraints{}, hw); sdeerr.CodeOf(err) != sdeerr.Resources {
		t.Fatalf("second attempt should report Resources (exhausted), got %v", err)
	}
	d.Reset()
	if err := d.GetNextStrategy(Constraints{}, hw); err != nil {
		t.Fatalf("after Reset: %v", err)
	}
}
