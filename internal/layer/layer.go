// Package layer holds the data model that flows through one composition
// cycle: the caller-supplied LayerStack, and the hardware-resolved
// HWLayers plan that the resource manager and strategy engine produce
// from it.
package layer

import (
	"fmt"

	"github.com/sdecore/sde/internal/sdeerr"
)

// Composition tags how a layer is ultimately realized on screen.
type Composition int

const (
	CompositionGPU Composition = iota
	CompositionSDE
	CompositionHWCursor
	CompositionHybrid
	CompositionBlit
	CompositionGPUTarget
	CompositionBlitTarget
)

// BlendMode is the per-layer alpha blend rule the mixer applies.
type BlendMode int

const (
	BlendNone BlendMode = iota
	BlendPremultiplied
	BlendCoverage
)

// Rect is an axis-aligned rectangle in either source-buffer or
// destination-mixer coordinate space, expressed in float32 so sub-pixel
// crops survive rotation/ROI-cut arithmetic without repeated rounding.
type Rect struct {
	Left, Top, Right, Bottom float32
}

func (r Rect) Width() float32  { return r.Right - r.Left }
func (r Rect) Height() float32 { return r.Bottom - r.Top }

// Transform carries the orientation flags a layer's buffer is presented
// with, independent of its crop/dst geometry.
type Transform struct {
	Rotate90       bool
	FlipHorizontal bool
	FlipVertical   bool
}

// MaxPlanes is the most planes any recognized format needs (a fully
// planar YUV layout plus a metadata plane).
const MaxPlanes = 4

// Plane describes one plane of a LayerBuffer: its dma-buf descriptor,
// byte offset into that buffer, and row stride. FD < 0 means the plane
// is not populated (a solid-fill layer, or an unused plane slot).
type Plane struct {
	FD     int
	Offset int64
	Stride int
}

// LayerBuffer is the pixel memory backing one Layer for one frame.
type LayerBuffer struct {
	Width, Height int
	Format        Format
	Planes        [MaxPlanes]Plane
	PlaneCount    int

	AcquireFence *Fence // IN: signalled by the producer when safe to read
	ReleaseFence *Fence // OUT: set by Commit, signalled when the consumer is done

	Secure        bool
	SecureDisplay bool
	Interlace     bool
	Video         bool
}

// Layer is one entry of a caller-supplied LayerStack.
type Layer struct {
	Buffer      LayerBuffer
	SrcCrop     Rect
	DstRect     Rect
	Transform   Transform
	Composition Composition
	Blend       BlendMode
	Alpha       uint8
	ZOrder      int

	// SolidFill is an ARGB color composed in place of buffer contents
	// when the layer carries no populated plane.
	SolidFill uint32
	// FrameRate is the layer's content rate in Hz, advisory to the
	// strategy (a video layer running below panel rate is a fallback
	// candidate).
	FrameRate int

	// Cursor marks this layer as eligible for the hardware cursor overlay
	// path; it is only honoured when it is also the top non-target layer
	// of the stack and the stack's CursorPresent flag agrees.
	Cursor bool
	// Skip marks a layer the caller has asked to drop from this frame
	// entirely (neither GPU nor hardware composed).
	Skip bool
	// Updating is clear when the layer's contents are unchanged since the
	// previous frame. The core does not read it; the idle fallback is armed
	// by an idle-timeout event (sde.Engine.NotifyIdleTimeout).
	Updating bool
	// SingleBuffered marks a layer whose producer rewrites the same
	// buffer every frame (no page flip). The core does not read it.
	SingleBuffered bool
}

// LayerStack is the caller's complete description of one frame for one
// display: z-ordered layers bottom-to-top plus stack-level flags and the
// fence slots Commit fills in.
type LayerStack struct {
	Layers     []Layer
	OutputRect Rect

	// OutputBuffer receives the composed frame on a virtual (writeback)
	// display; nil on physical displays.
	OutputBuffer *LayerBuffer

	// RetireFence is OUT: set by Commit on physical displays only,
	// signalled when this frame has been replaced on screen by the next.
	RetireFence *Fence
	// SyncHandle is OUT: a stack-level duplicate of the frame's release
	// fence the caller may wait on instead of per-layer fences.
	SyncHandle *Fence

	// CursorPresent mirrors the stack-level flag the caller sets when the
	// top layer is meant to be driven through the hardware cursor pipe;
	// strategy.Constraints.UseCursor additionally requires hardware
	// support before honouring it.
	CursorPresent bool
	// GeometryChanged signals the stack's layer positions/sizes moved
	// since the previous frame. The core does not read it: every Prepare
	// validates the whole stack (the ROI algorithm itself is out of scope).
	GeometryChanged bool
	// SecurePresent is set when any layer's buffer is secure. Pipe
	// selection does not read it.
	SecurePresent bool
	// VideoPresent is set when any layer carries video content.
	VideoPresent bool
	// SingleBufferedPresent is set when any layer is single-buffered.
	SingleBufferedPresent bool
}

// TopCursorEligible reports whether the top non-GPUTarget/BlitTarget
// layer of the stack both carries the Cursor flag and the stack's
// CursorPresent bit is set, per the strategy engine's use_cursor rule.
func (ls *LayerStack) TopCursorEligible() bool {
	if !ls.CursorPresent {
		return false
	}
	for i := len(ls.Layers) - 1; i >= 0; i-- {
		l := ls.Layers[i]
		if l.Composition == CompositionGPUTarget || l.Composition == CompositionBlitTarget {
			continue
		}
		return l.Cursor
	}
	return false
}

// Validate enforces the layer-stack invariants that hold independent of
// any particular display's mixer geometry: exactly one layer must carry
// CompositionGPUTarget, with every non-target layer preceding it; at
// most one layer may carry CompositionBlitTarget; and the GPUTarget's
// src and dst rects must both be well-formed (no NaN coordinate, left <=
// right, top <= bottom). Rule 4 (GPUTarget dst vs. mixer bounds) needs a
// display's mixer dimensions and is checked separately by
// ValidateMixerBounds. Crop integrality is deliberately NOT a stack
// invariant: a non-integral crop only disqualifies that layer from a
// hardware pipe (the scaling validator rejects it per attempt), so the
// strategy can still route it to GPU.
func (ls *LayerStack) Validate() error {
	gpuTargets, blitTargets := 0, 0
	sawGPUTarget := false
	var target *Layer
	for i := range ls.Layers {
		l := &ls.Layers[i]
		switch l.Composition {
		case CompositionGPUTarget:
			gpuTargets++
			sawGPUTarget = true
			target = l
		case CompositionBlitTarget:
			blitTargets++
		default:
			if sawGPUTarget {
				return sdeerr.New("layerstack: non-target layer follows gpu target", sdeerr.Parameters)
			}
		}
	}
	if gpuTargets != 1 {
		return sdeerr.New("layerstack: exactly one gpu target required", sdeerr.Parameters)
	}
	if blitTargets > 1 {
		return sdeerr.New("layerstack: multiple blit targets", sdeerr.Parameters)
	}
	if !isValidRect(target.SrcCrop) {
		return sdeerr.New("layerstack: gpu target srccrop invalid", sdeerr.Parameters)
	}
	if !isValidRect(target.DstRect) {
		return sdeerr.New("layerstack: gpu target dstrect invalid", sdeerr.Parameters)
	}
	return nil
}

// ValidateMixerBounds enforces ValidateGPUTarget rule 4: the GPUTarget's
// dst rect must not exceed the display's mixer dimensions. It is a
// separate call from Validate because the mixer size belongs to the
// display.Controller, not the stack, and must apply uniformly regardless
// of which Strategy resolves the plan. A display that has not yet
// completed a ReconfigureDisplay reports a zero-sized mixer; the rule is
// not yet meaningful in that state and is skipped rather than rejecting
// every frame before the display is configured.
func (ls *LayerStack) ValidateMixerBounds(mixerWidth, mixerHeight int) error {
	if mixerWidth <= 0 || mixerHeight <= 0 {
		return nil
	}
	for i := range ls.Layers {
		l := &ls.Layers[i]
		if l.Composition != CompositionGPUTarget {
			continue
		}
		if l.DstRect.Left < 0 || l.DstRect.Top < 0 ||
			l.DstRect.Right > float32(mixerWidth) || l.DstRect.Bottom > float32(mixerHeight) {
			return sdeerr.New(fmt.Sprintf("layer[%d].dstrect exceeds mixer bounds", i), sdeerr.Parameters)
		}
		return nil
	}
	return nil
}

// isValidRect reports whether r is well-formed per ValidateGPUTarget's
// IsValid check: no NaN coordinate (a plain > or < comparison against NaN
// is always false, so NaN must be rejected explicitly), and a
// non-inverted rectangle.
func isValidRect(r Rect) bool {
	if isNaNf(r.Left) || isNaNf(r.Top) || isNaNf(r.Right) || isNaNf(r.Bottom) {
		return false
	}
	return r.Left <= r.Right && r.Top <= r.Bottom
}

func isNaNf(v float32) bool { return v != v }

// Pipe marshalling flags set on a PipeSide, §4.2.
const (
	PipeFlagFlipHorizontal uint32 = 1 << iota
	PipeFlagFlipVertical
	// PipeFlagAsyncCursor marks a cursor layer whose position may be
	// updated asynchronously between commits; only video-mode panels
	// support it.
	PipeFlagAsyncCursor
)

// PipeSide is one hardware pipe binding within a HWLayerConfig: the sole
// pipe for a single-pipe layer, or one half of a left/right dual-pipe
// split for a layer whose destination is wider than one pipe's
// interface (§3.2/§3.3). Valid is false for the unused side of a
// single-pipe layer.
type PipeSide struct {
	Valid      bool
	PipeID     int
	SrcRect    Rect // source ROI; substituted for the rotator's output buffer when RotatorNeeded
	DstRect    Rect // destination ROI, integer ceil/floor per §4.2
	Decimation int
	ScaleX     float32
	ScaleY     float32
	SubBlock   int // 0 = left/whole, 1 = right half of a dual-pipe split
	Stride     int
	Flags      uint32
}

// HWLayerConfig is the per-layer slice of a resolved HWLayers plan: the
// pipe(s) and, when present, rotator session assigned to realize one
// hardware layer.
type HWLayerConfig struct {
	LayerIndex int
	// ZOrder is the hardware stacking order assigned by the strategy when
	// it builds Configs (§4.2: "z-order equals the pipe's z_order,
	// assigned by the strategy, not by stack position"). Both pipe sides
	// of a dual-pipe split share it since they tile a single layer.
	ZOrder int
	Left   PipeSide
	Right  PipeSide

	RotatorNeeded bool
	Rotator       HWRotatorSession
}

// HWRotatorSession describes the rotator-session binding for one layer,
// filled in by the display controller once the rotator package has
// opened a session.
// Width/Height/Format mirror the session's rotator.Config so the display
// controller can fold the rotator's output geometry back into the plan's
// src rect once Commit substitutes it in.
type HWRotatorSession struct {
	SessionID    int
	Width        int
	Height       int
	Format       Format
	ReleaseFence *Fence
}

// HWLayers is the resolved plan the strategy engine and resource manager
// jointly produce for one LayerStack: which hardware layers are needed,
// and the ValidationErr flag the composition manager's Prepare uses to
// force safe mode.
type HWLayers struct {
	Stack         *LayerStack
	Configs       []HWLayerConfig
	NeedsGPU      bool
	ValidationErr bool // set when the display's previous Prepare failed (composition, rotator setup or backend Validate)
}
