package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/runtime/shim"
)

var errInvalidReturn = errors.New("handle must return an object with a state or result field")

// errReadOutsideHandle rejects foreign reads made by top-level contract code,
// which runs before the host can answer them.
var errReadOutsideHandle = errors.New("foreign contract reads are only available inside handle")

// worker owns the goja runtime. Every method runs on the sandbox goroutine.
type worker struct {
	s      *Sandbox
	vm     *goja.Runtime
	env    *shim.Env
	handle goja.Callable

	// executing is set while an Execute is being applied.
	executing bool
}

func newWorker(ctx context.Context, s *Sandbox, cfg Config, prog *goja.Program) (*worker, error) {
	w := &worker{s: s, vm: goja.New()}
	s.vm.Store(w.vm)
	if s.destroyed() {
		return nil, s.errDestroyed()
	}

	depth := cfg.MaxCallStackSize
	if depth <= 0 {
		depth = DefaultMaxCallStackSize
	}
	w.vm.SetMaxCallStackSize(depth)

	env, err := shim.Install(w.vm, shim.DeterministicContext{
		Context:  ctx,
		Contract: cfg.Contract,
		Settings: cfg.Settings,
		Services: shim.HostServices{
			KV:           cfg.KV,
			Fetch:        cfg.Fetch,
			ReadContract: w.readForeign,
			Print:        cfg.Print,
		},
		Logger: s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: install shim: %w", err)
	}
	w.env = env

	if _, err := w.vm.RunProgram(prog); err != nil {
		return nil, &contracts.EvaluationError{
			Code:    contracts.CodeCompileError,
			Message: "contract initialization failed: " + describe(err),
			Err:     err,
		}
	}
	if w.handle, err = shim.HandleRef(w.vm); err != nil {
		return nil, &contracts.EvaluationError{Code: contracts.CodeCompileError, Message: err.Error(), Err: err}
	}
	return w, nil
}

// readForeign is the contract's blocking view of a foreign read: it
// suspends the worker by handing a ForeignCallRequest to Submit and waits
// for the matching response.
func (w *worker) readForeign(req shim.ForeignRead) (json.RawMessage, error) {
	if !w.executing {
		return nil, errReadOutsideHandle
	}
	out := ForeignCallRequest{
		ContractID:    req.ContractID,
		Height:        req.Height,
		CurrentHeight: req.CurrentHeight,
		ShowValidity:  req.ShowValidity,
	}
	select {
	case w.s.out <- out:
	case <-w.s.quit:
		return nil, w.s.errDestroyed()
	}

	var msg Message
	select {
	case msg = <-w.s.in:
	case <-w.s.quit:
		return nil, w.s.errDestroyed()
	}
	resp, ok := msg.(ForeignCallResponse)
	if !ok {
		return nil, fmt.Errorf("%w: expected a foreign call response, got %T", ErrProtocol, msg)
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if !req.ShowValidity {
		return resp.State, nil
	}
	return json.Marshal(struct {
		State    json.RawMessage        `json:"state"`
		Validity *contracts.ValidityMap `json:"validity"`
	}{resp.State, resp.Validity})
}

func (w *worker) execute(msg Execute) (res Result) {
	w.executing = true
	defer func() { w.executing = false }()
	if msg.Interaction != nil {
		w.env.Bind(shim.NewInteractionContext(msg.Interaction))
		defer w.env.Unbind()
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("sandbox: host panic: %v", r)}
		}
		if fatal := w.env.TakeFatal(); fatal != nil {
			res = Result{Fatal: fatal}
		}
	}()

	state, err := w.env.Parse(msg.State)
	if err != nil {
		return Result{Err: fmt.Errorf("sandbox: decode state: %w", err)}
	}
	input := msg.Input
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	rawAction, err := json.Marshal(struct {
		Input  json.RawMessage `json:"input"`
		Caller string          `json:"caller"`
	}{input, msg.Caller})
	if err != nil {
		return Result{Err: fmt.Errorf("sandbox: encode action: %w", err)}
	}
	action, err := w.env.Parse(rawAction)
	if err != nil {
		return Result{Err: fmt.Errorf("sandbox: decode action: %w", err)}
	}

	v, err := w.handle(goja.Undefined(), state, action)
	if err != nil {
		return Result{Err: w.classify(err)}
	}
	if v, err = w.settle(v); err != nil {
		return Result{Err: err}
	}
	return w.collect(v)
}

// settle unwraps the value of an async handle. Pending jobs have already
// been drained when the call returned.
func (w *worker) settle(v goja.Value) (goja.Value, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v, nil
	}
	p, ok := obj.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, w.thrown(p.Result())
	default:
		return nil, errors.New("handle returned a promise that never settled")
	}
}

func (w *worker) collect(v goja.Value) Result {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Result{Err: errInvalidReturn}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return Result{Err: errInvalidReturn}
	}

	var res Result
	if sv := obj.Get("state"); sv != nil && !goja.IsUndefined(sv) {
		raw, ok, err := w.env.Stringify(sv)
		if err != nil {
			return Result{Err: w.classify(err)}
		}
		if !ok {
			return Result{Err: errors.New("handle returned a state that is not JSON")}
		}
		res.State, res.HasState = raw, true
	}
	if rv := obj.Get("result"); rv != nil && !goja.IsUndefined(rv) {
		raw, ok, err := w.env.Stringify(rv)
		if err != nil {
			return Result{Err: w.classify(err)}
		}
		if ok {
			res.Result = raw
		}
	}
	if !res.HasState && res.Result == nil {
		return Result{Err: errInvalidReturn}
	}
	return res
}

func (w *worker) classify(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return w.thrown(ex.Value())
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return w.s.errDestroyed()
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return errors.New("RangeError: Maximum call stack size exceeded")
	}
	return err
}

// thrown converts a thrown JavaScript value. ContractError instances keep
// their identity; anything else becomes its string form.
func (w *worker) thrown(v goja.Value) error {
	if obj, ok := v.(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && name.String() == "ContractError" {
			msg := ""
			if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
				msg = m.String()
			}
			return &contracts.ContractError{Message: msg}
		}
	}
	if v == nil {
		return errors.New("undefined")
	}
	return errors.New(v.String())
}

func describe(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value().String()
	}
	return err.Error()
}
