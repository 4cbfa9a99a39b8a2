// Package app models an Android app inside the emulator: its screens, its
// readiness signal and its own lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/element"
	"gitlab.com/web-doodle/emubot/pkg/logging"
	"gitlab.com/web-doodle/emubot/pkg/statemachine"
)

var (
	ErrInvalidApp        = errors.New("app name and package name are required")
	ErrNotRegistered     = errors.New("app is not registered with a controller")
	ErrAlreadyRegistered = errors.New("app is already registered with another controller")
	ErrNotOpen           = errors.New("app is not open")
	ErrReadyTimeout      = errors.New("app did not become ready")
)

// Host is the controller an app is registered with. It runs the device
// side of the app's lifecycle.
type Host interface {
	LaunchApp(ctx context.Context, packageName string) error
	StopApp(ctx context.Context, packageName string) error
	IsAppRunning(ctx context.Context, packageName string, retries int, wait time.Duration) bool
	IsElementVisible(ctx context.Context, e *element.Element) bool
}

type App struct {
	name    string
	pkg     string
	screens map[string]*Screen
	ready   *element.Element
	cfg     config.AppConfig
	machine *statemachine.StateMachine[statemachine.AppState]
	logger  *zap.Logger

	mu   sync.Mutex
	host Host
}

type Option func(*App)

func WithScreens(screens ...*Screen) Option {
	return func(a *App) {
		for _, s := range screens {
			a.screens[s.Name()] = s
		}
	}
}

// WithReadyElement sets the element whose visibility means the app has
// finished loading.
func WithReadyElement(e *element.Element) Option {
	return func(a *App) { a.ready = e }
}

func WithConfig(cfg config.AppConfig) Option {
	return func(a *App) { a.cfg = cfg }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

func New(name, packageName string, opts ...Option) (*App, error) {
	if name == "" || packageName == "" {
		return nil, ErrInvalidApp
	}
	a := &App{
		name:    name,
		pkg:     packageName,
		screens: make(map[string]*Screen),
		cfg:     config.Default().App,
		machine: statemachine.NewApp(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrNop(a.logger).Named("app").With(zap.String("package", packageName))
	return a, nil
}

func (a *App) Name() string { return a.name }
func (a *App) PackageName() string { return a.pkg }
func (a *App) ReadyElement() *element.Element { return a.ready }

func (a *App) State() statemachine.AppState {
	return a.machine.Current()
}

func (a *App) Machine() *statemachine.StateMachine[statemachine.AppState] {
	return a.machine
}

func (a *App) IsOpen() bool { return a.machine.Is(statemachine.AppReady) }
func (a *App) IsLoading() bool { return a.machine.Is(statemachine.AppLoading) }
func (a *App) IsClosed() bool { return a.machine.Is(statemachine.AppClosed) }

func (a *App) AddScreen(s *Screen) {
	a.screens[s.Name()] = s
}

func (a *App) Screen(name string) (*Screen, bool) {
	s, ok := a.screens[name]
	return s, ok
}

func (a *App) ScreenNames() []string {
	names := make([]string, 0, len(a.screens))
	for name := range a.screens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register binds the app to host. Registering again with the same host is
// fine; a different host is an error.
func (a *App) Register(host Host) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.host != nil && a.host != host {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, a.name)
	}
	a.host = host
	return nil
}

func (a *App) Host() (Host, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.host == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, a.name)
	}
	return a.host, nil
}

// Open launches the app and moves it to LOADING. It does not wait for the
// app to become ready; see WaitReady.
func (a *App) Open(ctx context.Context) error {
	host, err := a.Host()
	if err != nil {
		return err
	}
	if !a.IsClosed() {
		a.logger.Debug("app already open", zap.Stringer("state", a.State()))
		return nil
	}
	if err := host.LaunchApp(ctx, a.pkg); err != nil {
		return fmt.Errorf("opening %s: %w", a.name, err)
	}
	if _, err := a.machine.TransitionTo(ctx, statemachine.AppLoading, false); err != nil {
		return err
	}
	a.logger.Info("app launched")
	return nil
}

// Close stops the app and moves it to CLOSED from any state.
func (a *App) Close(ctx context.Context) error {
	host, err := a.Host()
	if err != nil {
		return err
	}
	if err := host.StopApp(ctx, a.pkg); err != nil {
		return fmt.Errorf("closing %s: %w", a.name, err)
	}
	if _, err := a.machine.TransitionTo(ctx, statemachine.AppClosed, true); err != nil {
		return err
	}
	a.logger.Info("app closed")
	return nil
}

// WaitReady polls until the app is ready and moves it to READY. Readiness is
// the ready element being visible, or the app process running when no
// ready element is set. A non-positive timeout uses the configured one.
// A positive ReadyMaxRetries also caps the number of readiness checks.
func (a *App) WaitReady(ctx context.Context, timeout time.Duration) error {
	host, err := a.Host()
	if err != nil {
		return err
	}
	switch a.State() {
	case statemachine.AppReady:
		return nil
	case statemachine.AppClosed:
		return fmt.Errorf("%w: %s", ErrNotOpen, a.name)
	}
	if timeout <= 0 {
		timeout = a.cfg.ActionTimeout()
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		if a.readyNow(ctx, host) {
			if _, err := a.machine.TransitionTo(ctx, statemachine.AppReady, false); err != nil {
				return err
			}
			a.logger.Info("app ready")
			return nil
		}
		if !a.IsLoading() {
			return fmt.Errorf("%w: %s left LOADING while waiting", ErrNotOpen, a.name)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrReadyTimeout, a.name, timeout)
		}
		if limit := a.cfg.ReadyMaxRetries; limit > 0 && attempt >= limit {
			return fmt.Errorf("%w: %s after %d checks", ErrReadyTimeout, a.name, limit)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.ActionWait()):
		}
	}
}

func (a *App) readyNow(ctx context.Context, host Host) bool {
	if a.ready != nil {
		return host.IsElementVisible(ctx, a.ready)
	}
	return host.IsAppRunning(ctx, a.pkg, 1, 0)
}

func (a *App) String() string {
	return fmt.Sprintf("%s (%s)", a.name, a.pkg)
}
