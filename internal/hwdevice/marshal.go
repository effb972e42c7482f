package hwdevice

import (
	"math"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// LayerDescriptor is the per-pipe record a backend submits to its device
// for one validate or commit: everything the device needs to program one
// source pipe, flattened out of the resolved plan.
type LayerDescriptor struct {
	LayerIndex int
	PipeID     int
	ZOrder     int
	SubBlock   int

	SrcLeft, SrcTop, SrcWidth, SrcHeight int
	DstLeft, DstTop, DstWidth, DstHeight int

	Stride int
	Flags  uint32
	Alpha  uint8
	Blend  layer.BlendMode

	Planes       [layer.MaxPlanes]layer.Plane
	PlaneCount   int
	AcquireFence *layer.Fence
}

// OutputDescriptor is the writeback record submitted for a virtual
// display's output buffer.
type OutputDescriptor struct {
	Width, Height int
	Format        layer.Format
	Stride        int
	Planes        [layer.MaxPlanes]layer.Plane
	PlaneCount    int
}

// MarshalPlan flattens a resolved plan into the descriptor list a device
// consumes, applying the marshalling rules the adaptor owns: the dst
// rect is integerized as ceil(left), ceil(top), floor(right)-ceil(left),
// floor(bottom)-ceil(top); flip flags are suppressed for a layer served
// through a rotator session; the async-cursor flag survives only on
// video-mode panels. forCommit additionally carries the plane fds and
// acquire fences; a dry-run validate leaves them out.
func MarshalPlan(hw *layer.HWLayers, videoMode, forCommit bool) ([]LayerDescriptor, *OutputDescriptor, error) {
	if hw == nil || hw.Stack == nil {
		return nil, nil, sdeerr.New("hwdevice: marshal", sdeerr.Parameters)
	}
	var out []LayerDescriptor
	for i := range hw.Configs {
		cfg := &hw.Configs[i]
		if cfg.LayerIndex < 0 || cfg.LayerIndex >= len(hw.Stack.Layers) {
			return nil, nil, sdeerr.New("hwdevice: marshal: config index out of range", sdeerr.Parameters)
		}
		l := &hw.Stack.Layers[cfg.LayerIndex]
		for _, side := range []*layer.PipeSide{&cfg.Left, &cfg.Right} {
			if !side.Valid {
				continue
			}
			d := LayerDescriptor{
				LayerIndex: cfg.LayerIndex,
				PipeID:     side.PipeID,
				ZOrder:     cfg.ZOrder,
				SubBlock:   side.SubBlock,
				Stride:     side.Stride,
				Flags:      side.Flags,
				Alpha:      l.Alpha,
				Blend:      l.Blend,
			}
			d.SrcLeft, d.SrcTop, d.SrcWidth, d.SrcHeight = integerROI(side.SrcRect)
			d.DstLeft, d.DstTop, d.DstWidth, d.DstHeight = integerROI(side.DstRect)
			if cfg.RotatorNeeded {
				d.Flags &^= layer.PipeFlagFlipHorizontal | layer.PipeFlagFlipVertical
			}
			if !videoMode {
				d.Flags &^= layer.PipeFlagAsyncCursor
			}
			if forCommit {
				d.Planes = l.Buffer.Planes
				d.PlaneCount = l.Buffer.PlaneCount
				d.AcquireFence = l.Buffer.AcquireFence
			}
			out = append(out, d)
		}
	}

	var output *OutputDescriptor
	if ob := hw.Stack.OutputBuffer; ob != nil {
		output = &OutputDescriptor{
			Width:  ob.Width,
			Height: ob.Height,
			Format: ob.Format,
			// A writeback target's stride is always recomputed; the
			// caller-reported stride is not what the writeback block
			// produces. UBWC strides stay allocator-owned.
			Stride: ob.Width * ob.Format.BytesPerPixel(),
		}
		if ob.Format.IsUBWC() {
			output.Stride = ob.Planes[0].Stride
		}
		if forCommit {
			output.Planes = ob.Planes
			output.PlaneCount = ob.PlaneCount
		}
	}
	return out, output, nil
}

// integerROI converts a float rect to the integer position/size the
// device registers take: ceil on the top-left corner, floor on the
// bottom-right.
func integerROI(r layer.Rect) (left, top, width, height int) {
	left = int(math.Ceil(float64(r.Left)))
	top = int(math.Ceil(float64(r.Top)))
	width = int(math.Floor(float64(r.Right))) - left
	height = int(math.Floor(float64(r.Bottom))) - top
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return left, top, width, height
}

// SpreadFences distributes the device-returned fences after a successful
// commit: the retire fence lands on the stack (physical displays only),
// and the release fence is duplicated once into every distinct input
// layer that the device will read directly — deduplicated on original
// stack index so a dual-pipe layer gets exactly one duplicate — plus
// once into the stack-level sync handle. Layers served through a rotator
// are skipped: the device reads the rotator's output, not the caller's
// buffer, so their release path runs through the session ring instead.
// The originals are closed here; every surviving fence is a duplicate
// the caller owns.
func SpreadFences(hw *layer.HWLayers, retire, release *layer.Fence, writeback bool) error {
	stack := hw.Stack
	if writeback {
		retire.Close()
	} else {
		stack.RetireFence.Close()
		stack.RetireFence = retire
	}

	seen := make(map[int]bool, len(hw.Configs))
	for i := range hw.Configs {
		cfg := &hw.Configs[i]
		if cfg.RotatorNeeded || seen[cfg.LayerIndex] {
			continue
		}
		seen[cfg.LayerIndex] = true
		dup, err := release.Dup()
		if err != nil {
			release.Close()
			return sdeerr.Wrap("hwdevice: spread fences", sdeerr.FileDescriptor, err)
		}
		buf := &stack.Layers[cfg.LayerIndex].Buffer
		buf.ReleaseFence.Close()
		buf.ReleaseFence = dup
	}

	sync, err := release.Dup()
	if err != nil {
		release.Close()
		return sdeerr.Wrap("hwdevice: spread fences", sdeerr.FileDescriptor, err)
	}
	stack.SyncHandle.Close()
	stack.SyncHandle = sync
	return release.Close()
}
