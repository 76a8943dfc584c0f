// Package hooks runs an optional Lua script that can override switching
// decisions. All Lua execution happens on a single worker goroutine.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// hookName is the global function consulted before every switch.
const hookName = "on_switch"

// SwitchEvent describes a pending switching decision.
type SwitchEvent struct {
	Switch   string
	ActionID int
	Action   string
	On       bool
	Source   string
}

// work represents work to be executed on the Lua VM
type work func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L       *lua.LState
	hasHook bool

	workQueue chan work
	running   atomic.Bool
	done      chan struct{}

	// Closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a Lua runtime with the log module preloaded.
func NewRuntime() *Runtime {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	return &Runtime{
		L:         L,
		workQueue: make(chan work, 100),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
}

// LoadScript executes a script file. Must be called before Run.
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	r.detectHook()
	return nil
}

// LoadString executes script source. Must be called before Run.
func (r *Runtime) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	r.detectHook()
	return nil
}

func (r *Runtime) detectHook() {
	_, r.hasHook = r.L.GetGlobal(hookName).(*lua.LFunction)
	if r.hasHook {
		log.Info().Str("hook", hookName).Msg("Lua switch hook registered")
	}
}

// HasHook reports whether the loaded script defines on_switch.
func (r *Runtime) HasHook() bool {
	return r.hasHook
}

// Run is the only goroutine that touches Lua. It exits when ctx is cancelled
// or the runtime is closed, after draining queued work.
func (r *Runtime) Run(ctx context.Context) {
	r.running.Store(true)
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case w := <-r.workQueue:
			r.executeWork(ctx, w)
		}
	}
}

func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case w := <-r.workQueue:
			r.executeWork(ctx, w)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, w work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	w(ctx)
}

// Close stops the worker and releases the Lua state.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		if r.running.Load() {
			<-r.done
		}
		r.L.Close()
	})
}

// DoSync queues fn on the worker and waits for its result.
func (r *Runtime) DoSync(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	wrapped := work(func(c context.Context) {
		result <- fn(c)
	})

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// OnSwitch calls on_switch(ev). A boolean result overrides the decision;
// nil keeps it.
func (r *Runtime) OnSwitch(ctx context.Context, ev SwitchEvent) (on bool, overridden bool, err error) {
	if !r.hasHook {
		return ev.On, false, nil
	}

	err = r.DoSync(ctx, func(context.Context) error {
		fn, ok := r.L.GetGlobal(hookName).(*lua.LFunction)
		if !ok {
			return nil
		}

		tbl := r.L.NewTable()
		tbl.RawSetString("switch", lua.LString(ev.Switch))
		tbl.RawSetString("action_id", lua.LNumber(ev.ActionID))
		tbl.RawSetString("action", lua.LString(ev.Action))
		tbl.RawSetString("on", lua.LBool(ev.On))
		tbl.RawSetString("source", lua.LString(ev.Source))

		if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, tbl); err != nil {
			return fmt.Errorf("%s: %w", hookName, err)
		}
		ret := r.L.Get(-1)
		r.L.Pop(1)

		switch v := ret.(type) {
		case lua.LBool:
			on, overridden = bool(v), true
		case *lua.LNilType:
		default:
			return fmt.Errorf("%s: expected boolean or nil, got %s", hookName, ret.Type())
		}
		return nil
	})
	if err != nil {
		return ev.On, false, err
	}
	if !overridden {
		return ev.On, false, nil
	}
	return on, true, nil
}
