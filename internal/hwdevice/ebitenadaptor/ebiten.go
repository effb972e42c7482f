// Package ebitenadaptor renders a resolved composition plan into an
// on-screen window for visual smoke-testing, and drives the engine's
// VSync callback off ebiten's own per-frame tick.
package ebitenadaptor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/image/draw"

	"github.com/sdecore/sde/internal/hwdevice"
	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// Adaptor implements hwdevice.HWInterface by running an ebiten game loop
// in a background goroutine. Every exported method is safe to call from
// whatever goroutine owns the display's frame cycle; frameMutex
// serializes access to the fields ebiten's Update/Draw callbacks also
// touch.
type Adaptor struct {
	caps hwdevice.Caps

	width, height int
	scale         int

	frameMutex  sync.RWMutex
	running     bool
	power       hwdevice.PowerState
	plan        *layer.HWLayers
	frameCount  uint64
	vsync       hwdevice.VSyncFunc
	window      *ebiten.Image
	cursorX     int
	cursorY     int
}

// New builds an Adaptor sized width x height, displayed at the given
// integer scale factor.
func New(width, height, scale int, caps hwdevice.Caps) *Adaptor {
	if scale < 1 {
		scale = 1
	}
	return &Adaptor{caps: caps, width: width, height: height, scale: scale, power: hwdevice.PowerOff}
}

func (a *Adaptor) Caps() hwdevice.Caps { return a.caps }

// Start launches the ebiten game loop in a goroutine; it returns once the
// window has been requested to close or ctx is cancelled.
func (a *Adaptor) Start(ctx context.Context, vsync hwdevice.VSyncFunc) error {
	a.frameMutex.Lock()
	if a.running {
		a.frameMutex.Unlock()
		return sdeerr.New("ebitenadaptor: start", sdeerr.Parameters)
	}
	a.running = true
	a.vsync = vsync
	a.window = ebiten.NewImage(a.width, a.height)
	a.frameMutex.Unlock()

	ebiten.SetWindowSize(a.width*a.scale, a.height*a.scale)
	ebiten.SetWindowTitle("sde preview")

	done := make(chan error, 1)
	go func() { done <- ebiten.RunGame(a) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ebitenadaptor: run game: %w", err)
		}
		return nil
	}
}

// Update implements ebiten.Game; it fires the VSync callback once per
// tick, matching the teacher's vsyncChan-driven refresh signal.
func (a *Adaptor) Update() error {
	a.frameMutex.Lock()
	a.frameCount++
	fn := a.vsync
	a.frameMutex.Unlock()
	if fn != nil {
		fn(time.Now().UnixNano())
	}
	return nil
}

// Draw implements ebiten.Game. It has no real pixel memory to sample —
// LayerBuffer only describes format and geometry — so each non-skipped
// layer is blitted as a flat-shaded placeholder at its DstRect, ordered
// by ZOrder, good enough to eyeball pipe/rotator wiring during a smoke
// test without pretending to be a renderer.
func (a *Adaptor) Draw(screen *ebiten.Image) {
	a.frameMutex.RLock()
	plan := a.plan
	a.frameMutex.RUnlock()

	a.window.Fill(color.Black)
	if plan != nil && plan.Stack != nil {
		layers := append([]layer.Layer(nil), plan.Stack.Layers...)
		sort.Slice(layers, func(i, j int) bool { return layers[i].ZOrder < layers[j].ZOrder })
		for i, l := range layers {
			if l.Skip {
				continue
			}
			a.blitTarget(placeholderImage(l, i), dstRectToImageRect(l.DstRect))
		}
	}
	screen.DrawImage(a.window, nil)
}

// placeholderImage stands in for the pixel memory a real HWLayer would
// carry, colored by its position in ZOrder draw order so overlapping layers stay visually
// distinguishable in the preview window.
func placeholderImage(l layer.Layer, index int) image.Image {
	w := int(l.SrcCrop.Right - l.SrcCrop.Left)
	h := int(l.SrcCrop.Bottom - l.SrcCrop.Top)
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	hue := []color.RGBA{
		{R: 0x40, G: 0x80, B: 0xff, A: 0xff},
		{R: 0xff, G: 0x80, B: 0x40, A: 0xff},
		{R: 0x40, G: 0xff, B: 0x80, A: 0xff},
		{R: 0xff, G: 0x40, B: 0x80, A: 0xff},
	}[index%4]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(hue), image.Point{}, draw.Src)
	return img
}

func dstRectToImageRect(r layer.Rect) image.Rectangle {
	return image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom))
}

// Layout implements ebiten.Game.
func (a *Adaptor) Layout(outsideWidth, outsideHeight int) (int, int) {
	return a.width, a.height
}

func (a *Adaptor) Validate(_ context.Context, hw *layer.HWLayers) error {
	if hw.Stack == nil {
		return sdeerr.New("ebitenadaptor: validate", sdeerr.Parameters)
	}
	return hw.Stack.Validate()
}

func (a *Adaptor) Commit(_ context.Context, hw *layer.HWLayers) error {
	a.frameMutex.Lock()
	defer a.frameMutex.Unlock()
	if a.power == hwdevice.PowerOff {
		return sdeerr.New("ebitenadaptor: commit", sdeerr.Permission)
	}
	// ebiten's own frame pacing replaces the display fence; the stack
	// fences are still populated (as already-signalled) so downstream
	// bookkeeping stays uniform across backends.
	if err := hwdevice.SpreadFences(hw, layer.NoFence, layer.NoFence, false); err != nil {
		return err
	}
	a.plan = hw
	return nil
}

// blitTarget copies a source buffer's backing image into the preview
// window using x/image/draw, the one piece of that module the teacher's
// own dependency tree already pulls in transitively.
func (a *Adaptor) blitTarget(src image.Image, dst image.Rectangle) {
	draw.CatmullRom.Scale(a.window, dst, src, src.Bounds(), draw.Over, nil)
}

func (a *Adaptor) Flush(_ context.Context) error { return nil }

func (a *Adaptor) SetPowerState(_ context.Context, state hwdevice.PowerState) error {
	a.frameMutex.Lock()
	defer a.frameMutex.Unlock()
	a.power = state
	return nil
}

func (a *Adaptor) SetCursorPosition(_ context.Context, x, y int) error {
	if !a.caps.SupportsCursor {
		return sdeerr.New("ebitenadaptor: cursor", sdeerr.NotSupported)
	}
	a.frameMutex.Lock()
	defer a.frameMutex.Unlock()
	a.cursorX, a.cursorY = x, y
	return nil
}

func (a *Adaptor) GetColorModeCount(_ context.Context) (int, error) { return 1, nil }
func (a *Adaptor) GetColorModes(_ context.Context) ([]string, error) {
	return []string{"srgb"}, nil
}
func (a *Adaptor) SetColorMode(_ context.Context, _ string) error             { return nil }
func (a *Adaptor) SetColorTransform(_ context.Context, _ [16]float32) error   { return nil }
