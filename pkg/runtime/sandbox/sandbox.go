// Package sandbox runs one script contract in an isolated goja runtime owned
// by a dedicated goroutine. The host talks to it only through the typed
// message protocol in messages.go: one outstanding request at a time, with
// foreign contract reads surfacing as a suspend/resume cycle.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/fetchcache"
	"github.com/Mindburn-Labs/weave/pkg/kv"
	"github.com/Mindburn-Labs/weave/pkg/runtime/shim"
)

// DefaultMaxCallStackSize bounds contract recursion depth.
const DefaultMaxCallStackSize = 4096

// ErrProtocol is returned when a message is submitted out of turn, for
// example an Execute while a foreign call is pending.
var ErrProtocol = errors.New("sandbox: message not valid in current protocol state")

// Config describes the contract and host services a sandbox is built from.
type Config struct {
	Source   string
	Contract shim.ContractInfo
	Settings contracts.Settings

	KV    *kv.Namespace
	Fetch *fetchcache.Cache
	Print func(msg string)

	MaxCallStackSize int
	Logger           *slog.Logger
}

// Sandbox is a handle to a running contract worker.
type Sandbox struct {
	id     string
	logger *slog.Logger

	in   chan Message
	out  chan Message
	quit chan struct{}
	done chan struct{}

	cancel context.CancelFunc
	vm     atomic.Pointer[goja.Runtime]

	mu        sync.Mutex
	suspended bool
	destroy   sync.Once
}

// Create compiles source and starts the worker. Syntax errors, top-level
// exceptions and a missing handle function fail with COMPILE_ERROR.
func Create(ctx context.Context, cfg Config) (*Sandbox, error) {
	prog, err := compile(cfg.Contract.ID, cfg.Source)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "sandbox")
	}
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	s := &Sandbox{
		id:     id,
		logger: logger.With("sandbox_id", id, "contract_id", cfg.Contract.ID),
		in:     make(chan Message, 1),
		out:    make(chan Message, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	ready := make(chan error, 1)
	go s.run(runCtx, cfg, prog, ready)
	select {
	case err := <-ready:
		if err != nil {
			s.Destroy()
			return nil, err
		}
	case <-ctx.Done():
		s.Destroy()
		return nil, ctx.Err()
	}
	s.logger.Debug("sandbox created")
	return s, nil
}

func compile(name, source string) (*goja.Program, error) {
	prog, err := goja.Compile(name, shim.RewriteModule(source), false)
	if err != nil {
		return nil, &contracts.EvaluationError{Code: contracts.CodeCompileError, Message: err.Error(), Err: err}
	}
	return prog, nil
}

// ID identifies the sandbox in logs.
func (s *Sandbox) ID() string { return s.id }

// Submit sends msg and waits for the sandbox's single reply: a Result, or
// a ForeignCallRequest that must be answered with a ForeignCallResponse
// before anything else is accepted. Cancelling ctx destroys the sandbox.
func (s *Sandbox) Submit(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed() {
		return nil, s.errDestroyed()
	}
	switch msg.(type) {
	case Execute:
		if s.suspended {
			return nil, fmt.Errorf("%w: execute while a foreign call is pending", ErrProtocol)
		}
	case ForeignCallResponse:
		if !s.suspended {
			return nil, fmt.Errorf("%w: no foreign call is pending", ErrProtocol)
		}
	default:
		return nil, fmt.Errorf("%w: %T cannot be submitted", ErrProtocol, msg)
	}

	select {
	case s.in <- msg:
	case <-s.quit:
		return nil, s.errDestroyed()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-s.out:
		_, s.suspended = reply.(ForeignCallRequest)
		return reply, nil
	case <-s.quit:
		return nil, s.errDestroyed()
	case <-ctx.Done():
		s.Destroy()
		return nil, ctx.Err()
	}
}

// Destroy stops the worker and releases the runtime. It is idempotent and
// safe to call concurrently with Submit.
func (s *Sandbox) Destroy() {
	s.destroy.Do(func() {
		close(s.quit)
		if vm := s.vm.Load(); vm != nil {
			vm.Interrupt(s.errDestroyed())
		}
		s.cancel()
		<-s.done
		s.logger.Debug("sandbox destroyed")
	})
}

func (s *Sandbox) destroyed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Sandbox) errDestroyed() error {
	return contracts.NewError(contracts.CodeDestroyed, "sandbox %s has been destroyed", s.id)
}

func (s *Sandbox) run(ctx context.Context, cfg Config, prog *goja.Program, ready chan<- error) {
	defer close(s.done)

	w, err := newWorker(ctx, s, cfg, prog)
	if err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		select {
		case <-s.quit:
			return
		case msg := <-s.in:
			var reply Message
			if exec, ok := msg.(Execute); ok {
				reply = w.execute(exec)
			} else {
				reply = Result{Err: fmt.Errorf("%w: %T while idle", ErrProtocol, msg)}
			}
			select {
			case s.out <- reply:
			case <-s.quit:
				return
			}
		}
	}
}
