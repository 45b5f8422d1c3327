package shim

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/Mindburn-Labs/weave/pkg/kernel"
)

// ErrNoHandle reports a contract without a handle function.
var ErrNoHandle = errors.New("shim: contract does not declare a handle function")

// Env is a deterministic environment installed into one goja runtime. All
// methods must be called from the goroutine that owns the runtime.
type Env struct {
	vm    *goja.Runtime
	dc    DeterministicContext
	clock *kernel.DeterministicClock
	rng   *kernel.XorShift128Plus

	mu      sync.Mutex
	current *InteractionContext
	fatal   error

	jsonParse     goja.Callable
	jsonStringify goja.Callable
	errorCtor     goja.Value
	uint8Array    goja.Value
}

// Install strips the runtime's globals down to the allowlist and installs
// the deterministic replacements and host services described by dc.
func Install(vm *goja.Runtime, dc DeterministicContext) (*Env, error) {
	e := &Env{
		vm:    vm,
		dc:    dc,
		clock: kernel.NewDeterministicClock(dc.Settings.TxDate),
		rng:   kernel.NewXorShift128Plus(),
	}

	global := vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if allowedGlobals[name] {
			continue
		}
		if err := global.Delete(name); err != nil {
			return nil, fmt.Errorf("shim: strip global %q: %w", name, err)
		}
	}

	vm.SetRandSource(e.rng.Float64)
	vm.SetTimeSource(e.clock.Now)

	jsonObj := global.Get("JSON").ToObject(vm)
	var ok bool
	if e.jsonParse, ok = goja.AssertFunction(jsonObj.Get("parse")); !ok {
		return nil, errors.New("shim: JSON.parse unavailable")
	}
	if e.jsonStringify, ok = goja.AssertFunction(jsonObj.Get("stringify")); !ok {
		return nil, errors.New("shim: JSON.stringify unavailable")
	}
	e.errorCtor = global.Get("Error")
	e.uint8Array = global.Get("Uint8Array")

	if _, err := vm.RunProgram(preludeProgram); err != nil {
		return nil, fmt.Errorf("shim: prelude: %w", err)
	}

	perf := vm.NewObject()
	_ = perf.Set("now", func(goja.FunctionCall) goja.Value { return vm.ToValue(e.clock.Elapsed()) })
	e.hide("performance", perf)
	e.hide("btoa", e.btoa)
	e.hide("atob", e.atob)
	e.hide("SmartWeave", e.smartWeave())
	if dc.Settings.EXM {
		e.hide("EXM", e.exm())
	}
	return e, nil
}

func (e *Env) hide(name string, v any) {
	_ = e.vm.GlobalObject().DefineDataProperty(name, e.vm.ToValue(v), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

// Bind makes ic the current interaction: SmartWeave.transaction and
// SmartWeave.block reflect it and the clock reads its block timestamp.
func (e *Env) Bind(ic InteractionContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = &ic
	e.clock.BindBlock(ic.Block.Timestamp)
}

// Unbind clears the current interaction.
func (e *Env) Unbind() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = nil
	e.clock.Unbind()
}

func (e *Env) interaction() *InteractionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// TakeFatal returns and clears an error that must abort the whole
// evaluation, such as a self-read, regardless of whether contract code
// caught it.
func (e *Env) TakeFatal() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.fatal
	e.fatal = nil
	return err
}

func (e *Env) setFatal(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal == nil {
		e.fatal = err
	}
}

// Parse copies a JSON document into the runtime as a fresh value.
func (e *Env) Parse(raw json.RawMessage) (goja.Value, error) {
	if len(raw) == 0 {
		return goja.Null(), nil
	}
	return e.jsonParse(goja.Undefined(), e.vm.ToValue(string(raw)))
}

// Stringify copies a runtime value out as JSON. ok is false when the
// value has no JSON form (undefined, functions, symbols).
func (e *Env) Stringify(v goja.Value) (json.RawMessage, bool, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, false, nil
	}
	out, err := e.jsonStringify(goja.Undefined(), v)
	if err != nil {
		return nil, false, err
	}
	if goja.IsUndefined(out) {
		return nil, false, nil
	}
	return json.RawMessage(out.String()), true, nil
}

func (e *Env) toJS(v any) goja.Value {
	data, err := json.Marshal(v)
	if err != nil {
		panic(e.newError(err.Error()))
	}
	out, err := e.Parse(data)
	if err != nil {
		panic(e.newError(err.Error()))
	}
	return out
}

func (e *Env) newError(msg string) *goja.Object {
	obj, err := e.vm.New(e.errorCtor, e.vm.ToValue(msg))
	if err != nil {
		return e.vm.NewGoError(errors.New(msg))
	}
	return obj
}

func (e *Env) throw(err error) {
	panic(e.newError(err.Error()))
}

func (e *Env) resolved(v goja.Value) goja.Value {
	p, resolve, _ := e.vm.NewPromise()
	_ = resolve(v)
	return e.vm.ToValue(p)
}

func (e *Env) rejected(err error) goja.Value {
	p, _, reject := e.vm.NewPromise()
	_ = reject(e.newError(err.Error()))
	return e.vm.ToValue(p)
}

func (e *Env) bytesValue(b []byte) goja.Value {
	buf := e.vm.NewArrayBuffer(append([]byte(nil), b...))
	arr, err := e.vm.New(e.uint8Array, e.vm.ToValue(buf))
	if err != nil {
		e.throw(err)
	}
	return arr
}

// toBytes accepts typed arrays, ArrayBuffers, strings and arrays of numbers.
func (e *Env) toBytes(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case []byte:
		return append([]byte(nil), x...)
	case goja.ArrayBuffer:
		return append([]byte(nil), x.Bytes()...)
	case string:
		return []byte(x)
	case []any:
		out := make([]byte, len(x))
		for i, n := range x {
			switch num := n.(type) {
			case int64:
				out[i] = byte(num)
			case float64:
				out[i] = byte(int64(num))
			}
		}
		return out
	}
	panic(e.vm.NewTypeError("expected a buffer, got %s", v.String()))
}

func (e *Env) btoa(call goja.FunctionCall) goja.Value {
	s := call.Argument(0).String()
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			panic(e.vm.NewTypeError("btoa: string contains characters outside of the Latin1 range"))
		}
		buf = append(buf, byte(r))
	}
	return e.vm.ToValue(base64.StdEncoding.EncodeToString(buf))
}

func (e *Env) atob(call goja.FunctionCall) goja.Value {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f' {
			return -1
		}
		return r
	}, call.Argument(0).String())
	raw, err := base64.StdEncoding.DecodeString(padBase64(s))
	if err != nil {
		panic(e.vm.NewTypeError("atob: invalid base64 input"))
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return e.vm.ToValue(string(runes))
}

func padBase64(s string) string {
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	return s
}
