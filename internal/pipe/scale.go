package pipe

import (
	"math"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// ScaleLimits are the hardware caps a scaling validator checks a layer's
// crop/dst pair against. MaxSourceWidth bounds how wide a crop a single
// pipe may fetch while downscaling without decimation; the dual-pipe
// split is triggered by MaxInterfaceW (see NeedsSplit).
type ScaleLimits struct {
	MaxSourceWidth  int
	MaxInterfaceW   int // widest a single mixer stage can drive, split trigger
	MaxScaleDown    float32
	MaxScaleDownDec float32 // with decimation available
	MaxScaleUp      float32
	MinCropWidth    float32
	MinCropHeight   float32
}

// IsValidDimension validates one layer's crop against its dst rect,
// reproducing the hardware core's rejection
// rules: a non-integral crop, a degenerate dst, a crop narrower/shorter
// than the pipe's minimum fetch, or a scale ratio outside what the
// scaler (with or without decimation) can cover.
func IsValidDimension(l *layer.Layer, limits ScaleLimits, hasDecimation bool) error {
	if isNonIntegral(l.SrcCrop) {
		return sdeerr.New("pipe: scale: non-integral crop", sdeerr.Parameters)
	}
	crop := integerize(l.SrcCrop)
	cropW, cropH := crop.Width(), crop.Height()
	dstW, dstH := l.DstRect.Width(), l.DstRect.Height()

	if dstW < 1 || dstH < 1 {
		return sdeerr.New("pipe: scale: degenerate dst", sdeerr.Parameters)
	}
	if cropW < limits.MinCropWidth || cropH < limits.MinCropHeight {
		return sdeerr.New("pipe: scale: crop below minimum", sdeerr.Parameters)
	}

	scaleW, scaleH := cropW/dstW, cropH/dstH
	if l.Transform.Rotate90 {
		scaleW, scaleH = cropH/dstW, cropW/dstH
	}

	if scaleW > 1 || scaleH > 1 {
		if !hasDecimation {
			if cropW > float32(limits.MaxSourceWidth) || scaleW > limits.MaxScaleDown || scaleH > limits.MaxScaleDown {
				return sdeerr.New("pipe: scale: downscale exceeds limit", sdeerr.Parameters)
			}
		} else if scaleW > limits.MaxScaleDownDec || scaleH > limits.MaxScaleDownDec {
			return sdeerr.New("pipe: scale: downscale exceeds decimated limit", sdeerr.Parameters)
		}
	}
	if scaleW > 0 && 1/scaleW > limits.MaxScaleUp {
		return sdeerr.New("pipe: scale: upscale exceeds limit", sdeerr.Parameters)
	}
	if scaleH > 0 && 1/scaleH > limits.MaxScaleUp {
		return sdeerr.New("pipe: scale: upscale exceeds limit", sdeerr.Parameters)
	}
	return nil
}

// NeedsSplit reports whether dst or crop width exceeds the single-pipe
// interface width, requiring the layer to be realized by a left/right
// pipe pair.
func NeedsSplit(l *layer.Layer, limits ScaleLimits) bool {
	return l.DstRect.Width() > float32(limits.MaxInterfaceW) || l.SrcCrop.Width() > float32(limits.MaxInterfaceW)
}

// isNonIntegral reports whether any crop coordinate has a fractional
// part; such a layer cannot be fetched by a pipe and must be re-routed
// to GPU by a later strategy attempt.
func isNonIntegral(r layer.Rect) bool {
	for _, v := range []float32{r.Left, r.Top, r.Right, r.Bottom} {
		if float64(v) != math.Trunc(float64(v)) {
			return true
		}
	}
	return false
}

func integerize(r layer.Rect) layer.Rect {
	return layer.Rect{
		Left:   float32(math.Ceil(float64(r.Left))),
		Top:    float32(math.Ceil(float64(r.Top))),
		Right:  float32(math.Floor(float64(r.Right))),
		Bottom: float32(math.Floor(float64(r.Bottom))),
	}
}

// IntegerizeDst applies §4.2's destination-rect marshalling rule to a
// layer's dst rect, ceiling the top-left corner and flooring the
// bottom-right so it lands on the pipe's integer ROI registers.
func IntegerizeDst(r layer.Rect) layer.Rect {
	return integerize(r)
}

// cutRatios is the fraction of the source crop to discard from each edge,
// computed from how much of the dst rect falls outside the mixer's
// visible scissor.
type cutRatios struct {
	Left, Top, Right, Bottom float32
}

// calculateCut rotates the four cut ratios to account for the layer's
// transform: a horizontal flip swaps left/right, a vertical flip swaps
// top/bottom, and a 90-degree rotation cycles all four one step
// anti-clockwise (left takes top's ratio, top takes right's, and so on),
// exactly as the hardware core's CalculateCut does before it shrinks the
// crop rect.
func calculateCut(c cutRatios, t layer.Transform) cutRatios {
	if t.FlipHorizontal {
		c.Left, c.Right = c.Right, c.Left
	}
	if t.FlipVertical {
		c.Top, c.Bottom = c.Bottom, c.Top
	}
	if t.Rotate90 {
		c.Left, c.Top, c.Right, c.Bottom = c.Top, c.Right, c.Bottom, c.Left
	}
	return c
}

// CalculateCropRects clips dst against scissor, derives the proportional
// cut ratios on each edge, rotates them per the layer's transform, and
// shrinks src accordingly. It returns the adjusted (src, dst) pair.
func CalculateCropRects(l *layer.Layer, scissor layer.Rect) (src, dst layer.Rect) {
	dst = l.DstRect
	src = l.SrcCrop

	var c cutRatios
	dstW, dstH := dst.Width(), dst.Height()
	if dstW <= 0 || dstH <= 0 {
		return src, dst
	}
	if dst.Left < scissor.Left {
		c.Left = (scissor.Left - dst.Left) / dstW
		dst.Left = scissor.Left
	}
	if dst.Top < scissor.Top {
		c.Top = (scissor.Top - dst.Top) / dstH
		dst.Top = scissor.Top
	}
	if dst.Right > scissor.Right {
		c.Right = (dst.Right - scissor.Right) / dstW
		dst.Right = scissor.Right
	}
	if dst.Bottom > scissor.Bottom {
		c.Bottom = (dst.Bottom - scissor.Bottom) / dstH
		dst.Bottom = scissor.Bottom
	}

	c = calculateCut(c, l.Transform)

	srcW, srcH := src.Width(), src.Height()
	src.Left += srcW * c.Left
	src.Top += srcH * c.Top
	src.Right -= srcW * c.Right
	src.Bottom -= srcH * c.Bottom
	return src, dst
}
