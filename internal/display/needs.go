package display

import (
	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/pipe"
)

// DefaultNeedsResolver derives the resource manager's per-layer needs
// from a resolved plan: the source format picks the pipe class, a
// crop/dst size mismatch demands a scaling pipe, a destination wider
// than one pipe's interface demands a left/right split, and a coverage
// blend rules out DMA pipes (they have no blend curve).
func DefaultNeedsResolver(hw *layer.HWLayers, limits pipe.ScaleLimits) ([]pipe.LayerNeed, error) {
	needs := make([]pipe.LayerNeed, 0, len(hw.Configs))
	for _, cfg := range hw.Configs {
		l := &hw.Stack.Layers[cfg.LayerIndex]
		srcW, srcH := int(l.SrcCrop.Width()), int(l.SrcCrop.Height())
		if l.Transform.Rotate90 {
			srcW, srcH = srcH, srcW
		}
		dstW, dstH := int(l.DstRect.Width()), int(l.DstRect.Height())
		needs = append(needs, pipe.LayerNeed{
			LayerIndex:    cfg.LayerIndex,
			Format:        l.Buffer.Format,
			NeedScale:     srcW != dstW || srcH != dstH,
			Split:         pipe.NeedsSplit(l, limits),
			NonDMACapable: l.Blend == layer.BlendCoverage,
		})
	}
	return needs, nil
}
