// Package emulator manages the BlueStacks process lifecycle: launching it,
// waiting for the boot splash to go away, connecting the device bridge and
// killing it again.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/element"
	"gitlab.com/web-doodle/emubot/pkg/logging"
	"gitlab.com/web-doodle/emubot/pkg/statemachine"
)

var (
	ErrStartup     = errors.New("emulator failed to start")
	ErrKill        = errors.New("emulator could not be killed")
	ErrLoadTimeout = errors.New("emulator did not finish loading")
	ErrNotRunning  = errors.New("emulator process is not running")
)

type ProcessManager interface {
	FindProcess(name string) ([]int32, error)
	Kill(pid int32) error
	Exists(pid int32) (bool, error)
}

type Launcher interface {
	Launch(ctx context.Context, path string, args ...string) error
}

type ExecutableFinder interface {
	Find(ctx context.Context) (string, error)
}

// WindowCapturer grabs the emulator window from the host. It is used while
// the device bridge is not connected yet.
type WindowCapturer interface {
	CaptureWindow(ctx context.Context) ([]byte, error)
}

type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
}

// ScreenMatcher runs a single match of an element against a screenshot.
type ScreenMatcher interface {
	Match(ctx context.Context, e *element.Element, screen []byte) (element.Coords, bool, error)
}

// Deps are the collaborators a Controller drives. The controller owns the
// transport and the emulator process; others only borrow them.
type Deps struct {
	Processes  ProcessManager
	Launcher   Launcher
	Executable ExecutableFinder
	Window     WindowCapturer
	Transport  Transport
	Matcher    ScreenMatcher
}

type OpenOptions struct {
	MaxRetries int
	Wait       time.Duration
	Timeout    time.Duration
}

func DefaultOpenOptions(cfg config.EmulatorConfig) OpenOptions {
	return OpenOptions{
		MaxRetries: cfg.MaxRetries,
		Wait:       cfg.WaitTime(),
		Timeout:    cfg.Timeout(),
	}
}

type Controller struct {
	cfg     config.EmulatorConfig
	deps    Deps
	machine *statemachine.StateMachine[statemachine.EmulatorState]
	loading *element.Element
	logger  *zap.Logger

	onTransition func(statemachine.EmulatorState)
}

type Option func(*Controller)

// WithTransitionHook is called whenever a state is entered, before that
// state's own work runs.
func WithTransitionHook(fn func(statemachine.EmulatorState)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

func New(cfg config.EmulatorConfig, deps Deps, logger *zap.Logger, opts ...Option) (*Controller, error) {
	loading, err := LoadingElement(cfg)
	if err != nil {
		return nil, fmt.Errorf("building loading element: %w", err)
	}
	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		machine: statemachine.NewEmulator(),
		loading: loading,
		logger:  logging.OrNop(logger).Named("emulator"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.machine.RegisterHandler(statemachine.EmulatorClosed, c.entering(statemachine.EmulatorClosed, nil), nil)
	c.machine.RegisterHandler(statemachine.EmulatorLoading, c.entering(statemachine.EmulatorLoading, func(ctx context.Context) error {
		return c.WaitForLoad(ctx, cfg.LoadTimeout())
	}), nil)
	c.machine.RegisterHandler(statemachine.EmulatorReady, c.entering(statemachine.EmulatorReady, c.connect), nil)
	return c, nil
}

func (c *Controller) State() statemachine.EmulatorState {
	return c.machine.Current()
}

func (c *Controller) IsReady() bool {
	return c.machine.Is(statemachine.EmulatorReady)
}

func (c *Controller) Machine() *statemachine.StateMachine[statemachine.EmulatorState] {
	return c.machine
}

func (c *Controller) Transport() Transport {
	return c.deps.Transport
}

// Open launches the emulator when it is CLOSED and returns once it is READY.
// It does nothing when the emulator is already LOADING or READY.
func (c *Controller) Open(ctx context.Context, opts OpenOptions) error {
	switch c.State() {
	case statemachine.EmulatorLoading:
		c.logger.Info("emulator is already open and loading")
		return nil
	case statemachine.EmulatorReady:
		c.logger.Info("emulator is already open and ready")
		return nil
	}

	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}

	c.logger.Info("opening emulator")
	path, err := c.deps.Executable.Find(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	if err := c.deps.Launcher.Launch(ctx, path); err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	if err := c.waitForProcess(ctx, opts); err != nil {
		return err
	}

	c.logger.Info("emulator process started", zap.String("path", path))
	_, err = c.machine.TransitionTo(ctx, statemachine.EmulatorLoading, false)
	return err
}

// Attach adopts an emulator process that was started elsewhere. From CLOSED
// it moves to LOADING, and from there to READY like Open, without launching
// anything.
func (c *Controller) Attach(ctx context.Context) error {
	if !c.machine.Is(statemachine.EmulatorClosed) {
		return nil
	}
	pids, err := c.deps.Processes.FindProcess(c.cfg.ProcessName)
	if err != nil {
		return fmt.Errorf("looking for %s: %w", c.cfg.ProcessName, err)
	}
	if len(pids) == 0 {
		return fmt.Errorf("%w: %s", ErrNotRunning, c.cfg.ProcessName)
	}
	c.logger.Info("attaching to running emulator", zap.Int32s("pids", pids))
	_, err = c.machine.TransitionTo(ctx, statemachine.EmulatorLoading, false)
	return err
}

func (c *Controller) waitForProcess(ctx context.Context, opts OpenOptions) error {
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		pids, err := c.deps.Processes.FindProcess(c.cfg.ProcessName)
		if err == nil && len(pids) > 0 {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out after %s waiting for %s (attempt %d/%d)",
				ErrStartup, opts.Timeout, c.cfg.ProcessName, attempt, opts.MaxRetries)
		}
		c.logger.Warn("emulator process not found yet",
			zap.Int("attempt", attempt), zap.Int("max_retries", opts.MaxRetries), zap.Error(err))
		if attempt == opts.MaxRetries {
			break
		}
		if err := sleep(ctx, opts.Wait); err != nil {
			return fmt.Errorf("%w: %w", ErrStartup, err)
		}
	}
	return fmt.Errorf("%w: %s not running after %d/%d attempts",
		ErrStartup, c.cfg.ProcessName, opts.MaxRetries, opts.MaxRetries)
}

// WaitForLoad polls the emulator window until the loading splash is gone,
// then moves to READY. It returns as soon as the state leaves LOADING.
//
// On timeout the emulator stays LOADING and ErrLoadTimeout is returned,
// unless ForceReady is configured.
func (c *Controller) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	c.logger.Debug("waiting for emulator to load", zap.Duration("timeout", timeout))
	deadline := time.Now().Add(timeout)

	for c.machine.Is(statemachine.EmulatorLoading) {
		if c.loaded(ctx) {
			c.logger.Info("loading screen gone, emulator is ready")
			_, err := c.machine.TransitionTo(ctx, statemachine.EmulatorReady, false)
			return err
		}

		if time.Now().After(deadline) {
			if c.cfg.ForceReady {
				c.logger.Warn("load timeout reached, forcing ready", zap.Duration("timeout", timeout))
				_, err := c.machine.TransitionTo(ctx, statemachine.EmulatorReady, false)
				return err
			}
			return fmt.Errorf("%w after %s", ErrLoadTimeout, timeout)
		}

		if err := sleep(ctx, c.cfg.LoadPoll()); err != nil {
			return err
		}
	}
	return nil
}

// loaded reports whether the loading splash has disappeared. A failed
// capture or match counts as still loading.
func (c *Controller) loaded(ctx context.Context) bool {
	screen, err := c.deps.Window.CaptureWindow(ctx)
	if err != nil {
		c.logger.Debug("window capture failed, still loading", zap.Error(err))
		return false
	}
	_, visible, err := c.deps.Matcher.Match(ctx, c.loading, screen)
	if err != nil {
		c.logger.Debug("loading screen check failed", zap.Error(err))
		return false
	}
	if visible {
		c.logger.Debug("emulator is still loading")
	}
	return !visible
}

func (c *Controller) connect(ctx context.Context) error {
	if c.deps.Transport == nil || c.deps.Transport.IsConnected() {
		return nil
	}
	if err := c.deps.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}
	return nil
}

// Kill disconnects the transport, kills the emulator process and moves to
// CLOSED. It does nothing when already CLOSED.
func (c *Controller) Kill(ctx context.Context) error {
	if c.machine.Is(statemachine.EmulatorClosed) {
		c.logger.Debug("emulator is already closed")
		return nil
	}

	c.logger.Info("killing emulator")
	if t := c.deps.Transport; t != nil && t.IsConnected() {
		if err := t.Disconnect(ctx); err != nil {
			c.logger.Warn("transport disconnect failed", zap.Error(err))
		}
	}

	pids, err := c.deps.Processes.FindProcess(c.cfg.ProcessName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKill, err)
	}
	if len(pids) == 0 {
		return fmt.Errorf("%w: no %s process running", ErrKill, c.cfg.ProcessName)
	}
	for _, pid := range pids {
		if err := c.deps.Processes.Kill(pid); err != nil {
			return fmt.Errorf("%w: pid %d: %w", ErrKill, pid, err)
		}
	}
	c.waitForExit(ctx, pids)

	if _, err := c.machine.TransitionTo(ctx, statemachine.EmulatorClosed, false); err != nil {
		return err
	}
	c.logger.Info("emulator killed")
	return nil
}

func (c *Controller) waitForExit(ctx context.Context, pids []int32) {
	deadline := time.Now().Add(c.cfg.ProcessWait())
	for _, pid := range pids {
		for {
			alive, err := c.deps.Processes.Exists(pid)
			if err != nil || !alive {
				break
			}
			if time.Now().After(deadline) {
				c.logger.Warn("emulator process still alive after kill", zap.Int32("pid", pid))
				return
			}
			if sleep(ctx, 100*time.Millisecond) != nil {
				return
			}
		}
	}
}

func (c *Controller) entering(state statemachine.EmulatorState, fn statemachine.Handler) statemachine.Handler {
	return func(ctx context.Context) error {
		c.logger.Debug("entering state", zap.Stringer("state", state))
		if c.onTransition != nil {
			c.onTransition(state)
		}
		if fn == nil {
			return nil
		}
		return fn(ctx)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
