package strategy

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/sdecore/sde/internal/layer"
	"github.com/sdecore/sde/internal/sdeerr"
)

// Plugin loads a side strategy script once and re-evaluates it on every
// GetNextStrategy call, the same "dynamically loaded if present" shape
// the hardware core's dlopen'd strategy library fills: absence of the
// script, or any error evaluating it, is not fatal and the caller is
// expected to fall back to Default exactly as the original falls back to
// its in-tree strategy on a dlopen/dlsym miss.
type Plugin struct {
	source  string
	state   *lua.LState
	attempt int
}

// LoadPlugin compiles source (a Lua script implementing a
// next_strategy(layer_count, safe_mode, attempt) -> table of layer
// indices function) for repeated reuse. The script is parsed once here;
// a syntax error is returned immediately so the caller can decide to run
// without a plug-in strategy at all.
func LoadPlugin(source string) (*Plugin, error) {
	ls := lua.NewState()
	if err := ls.DoString(source); err != nil {
		ls.Close()
		return nil, sdeerr.Wrap("strategy: plugin load", sdeerr.Undefined, err)
	}
	if ls.GetGlobal("next_strategy").Type() != lua.LTFunction {
		ls.Close()
		return nil, sdeerr.New("strategy: plugin missing next_strategy", sdeerr.NotSupported)
	}
	return &Plugin{source: source, state: ls}, nil
}

// Close releases the embedded interpreter.
func (p *Plugin) Close() error {
	p.state.Close()
	return nil
}

// GetNextStrategy calls into the Lua script, translating its returned
// hardware-layer index table into Configs. A script error or an
// out-of-range index is reported as sdeerr.Resources so the composition
// manager treats it the same as "strategy exhausted".
func (p *Plugin) GetNextStrategy(c Constraints, hw *layer.HWLayers) error {
	ls := p.state
	fn := ls.GetGlobal("next_strategy")
	if err := ls.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LNumber(len(hw.Stack.Layers)),
		lua.LBool(c.SafeMode),
		lua.LNumber(p.attempt),
	); err != nil {
		return sdeerr.Wrap("strategy: plugin call", sdeerr.Resources, err)
	}
	p.attempt++

	ret := ls.Get(-1)
	ls.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return sdeerr.New("strategy: plugin returned non-table", sdeerr.Resources)
	}
	if tbl.Len() == 0 {
		return sdeerr.New("strategy: plugin exhausted", sdeerr.Resources)
	}

	hwIndex := make(map[int]bool, tbl.Len())
	tbl.ForEach(func(_, v lua.LValue) {
		n, ok := v.(lua.LNumber)
		if ok {
			hwIndex[int(n)] = true
		}
	})
	for idx := range hwIndex {
		if idx < 0 || idx >= len(hw.Stack.Layers) {
			return sdeerr.New(fmt.Sprintf("strategy: plugin index %d out of range", idx), sdeerr.Resources)
		}
	}

	hw.Configs = hw.Configs[:0]
	for i := range hw.Stack.Layers {
		l := &hw.Stack.Layers[i]
		if hwIndex[i] {
			hw.Configs = append(hw.Configs, layer.HWLayerConfig{LayerIndex: i, ZOrder: len(hw.Configs)})
			if l.Composition == layer.CompositionGPU {
				l.Composition = layer.CompositionSDE
			}
		} else if l.Composition != layer.CompositionGPUTarget {
			l.Composition = layer.CompositionGPU
		}
	}
	return nil
}

// Reset rearms the attempt counter for a new Prepare cycle.
func (p *Plugin) Reset() { p.attempt = 0 }
