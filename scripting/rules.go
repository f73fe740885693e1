// Package scripting evaluates user-supplied JavaScript rules that tune
// the split parameters per page. The script defines a single function:
//
//	function params(page) {
//	    // page: {index, width, height, rotation, ratio, offset, gutter}
//	    if (page.index % 2 == 0) return {offset: -6};
//	    return {offset: 6};
//	}
//
// index is 1-based; width and height are the logical (rotation-applied)
// dimensions in points. The returned object may override ratio, offset
// and gutter; anything omitted keeps the base value. Returning null or
// undefined keeps all base values.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/despread/despread/geometry"
)

// ErrScript marks rule evaluation failures: compile errors, thrown
// exceptions, and malformed return values. Distinct from split geometry
// errors so callers can treat a broken script as fatal for the whole
// document rather than a per-page condition.
var ErrScript = errors.New("rules script failed")

// PageInfo is what the rule function sees for one page.
type PageInfo struct {
	Index    int
	Width    float64
	Height   float64
	Rotation int
}

// RuleSet is a compiled rules script. A goja runtime is not safe for
// concurrent use, so calls are serialized; pages of one document are
// evaluated in order anyway.
type RuleSet struct {
	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// Compile parses and runs the script once, then captures its params
// function. name is used in error messages, typically the file path.
func Compile(name, src string) (*RuleSet, error) {
	vm := goja.New()
	if _, err := vm.RunScript(name, src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	fn, ok := goja.AssertFunction(vm.Get("params"))
	if !ok {
		return nil, fmt.Errorf("%w: %s does not define a params function", ErrScript, name)
	}
	return &RuleSet{vm: vm, fn: fn}, nil
}

// ParamsFor applies the rule function to one page, starting from base.
func (r *RuleSet) ParamsFor(ctx context.Context, page PageInfo, base geometry.SplitParams) (geometry.SplitParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return base, err
	}

	done := make(chan struct{})
	defer close(done)
	defer r.vm.ClearInterrupt()
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	arg := r.vm.NewObject()
	arg.Set("index", page.Index)
	arg.Set("width", page.Width)
	arg.Set("height", page.Height)
	arg.Set("rotation", page.Rotation)
	arg.Set("ratio", base.Ratio)
	arg.Set("offset", base.Offset)
	arg.Set("gutter", base.Gutter)

	val, err := r.fn(goja.Undefined(), arg)
	if err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			if cause := interrupted.Unwrap(); cause != nil {
				return base, cause
			}
			return base, context.Canceled
		}
		return base, fmt.Errorf("%w: %v", ErrScript, err)
	}
	return applyOverrides(val, base)
}

func applyOverrides(val goja.Value, base geometry.SplitParams) (geometry.SplitParams, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return base, nil
	}
	exported := val.Export()
	m, ok := exported.(map[string]interface{})
	if !ok {
		return base, fmt.Errorf("%w: params returned %T, want an object", ErrScript, exported)
	}

	out := base
	if v, ok, err := numField(m, "ratio"); err != nil {
		return base, err
	} else if ok {
		out.Ratio = v
	}
	if v, ok, err := numField(m, "offset"); err != nil {
		return base, err
	} else if ok {
		out.Offset = v
	}
	if v, ok, err := numField(m, "gutter"); err != nil {
		return base, err
	} else if ok {
		out.Gutter = v
	}
	return out, nil
}

func numField(m map[string]interface{}, key string) (float64, bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case int64:
		return float64(n), true, nil
	}
	return 0, false, fmt.Errorf("%w: %s is %T, want a number", ErrScript, key, v)
}
