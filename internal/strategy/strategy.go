// Package strategy decides, for one LayerStack, which layers go to the
// GPU and which are realized directly by hardware pipes. A Strategy is
// consulted repeatedly within one Prepare cycle: each call proposes one
// candidate plan, and the composition manager keeps asking for the next
// one until the resource manager can satisfy it or the strategy gives up.
package strategy

import (
	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// Constraints narrows what plans a Strategy may propose.
type Constraints struct {
	SafeMode bool // only GPU-only plans are acceptable
	// MaxLayers caps the hardware (non-GPU) layers per frame: 0 means the
	// full pipe budget, a negative value means no hardware layers at all
	// (GPU-only, used for S3D-packed HDMI frames).
	MaxLayers    int
	UseCursor    bool
	IdleFallback bool // display has been idle; prefer power-saving plans
}

// Strategy proposes successive candidate compositions for one stack.
// GetNextStrategy returns sdeerr.Resources once it has no further
// candidates to propose. Reset rearms the strategy for a fresh Prepare
// cycle; the composition manager calls it once per frame before the
// first GetNextStrategy, mirroring the hardware core's
// strategy.Start/PrePrepare step.
type Strategy interface {
	GetNextStrategy(c Constraints, hw *layer.HWLayers) error
	Reset()
}

// Default marks every non-target layer for GPU composition, exactly the
// single-candidate plan the hardware core's fallback strategy produces:
// there is exactly one hardware layer (the GPU target buffer) and
// everything else is composited by the GPU.
type Default struct {
	exhausted bool
}

func NewDefault() *Default { return &Default{} }

func (d *Default) GetNextStrategy(_ Constraints, hw *layer.HWLayers) error {
	if d.exhausted {
		return sdeerr.New("strategy: default exhausted", sdeerr.Resources)
	}
	d.exhausted = true

	hw.Configs = hw.Configs[:0]
	for i := range hw.Stack.Layers {
		l := &hw.Stack.Layers[i]
		if l.Composition != layer.CompositionGPUTarget {
			l.Composition = layer.CompositionGPU
		} else {
			hw.Configs = append(hw.Configs, layer.HWLayerConfig{LayerIndex: i, ZOrder: len(hw.Configs)})
		}
	}
	if len(hw.Configs) != 1 {
		return sdeerr.New("strategy: default", sdeerr.Parameters)
	}
	hw.NeedsGPU = true
	return nil
}

// Reset rearms a Default strategy for a new Prepare cycle.
func (d *Default) Reset() { d.exhausted = false }

// MaxAttempts bounds how many candidates the composition manager will
// request from a Strategy within one Prepare call before giving up and
// falling back to Default. The hardware core this replaces only ever
// modeled a single-attempt default strategy; a richer plug-in strategy
// may propose more than one candidate, so this is a real loop bound
// rather than a vestigial constant.
const MaxAttempts = 4
