// Package controller is the facade automation code talks to. It ties the
// emulator lifecycle, the device bridge, the matcher and the registered apps
// together and refuses device actions until the emulator is READY and the
// bridge is connected.
package controller

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/adb"
	"gitlab.com/web-doodle/emubot/pkg/app"
	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/element"
	"gitlab.com/web-doodle/emubot/pkg/emulator"
	"gitlab.com/web-doodle/emubot/pkg/logging"
	"gitlab.com/web-doodle/emubot/pkg/matcher"
	"gitlab.com/web-doodle/emubot/pkg/ocr"
	"gitlab.com/web-doodle/emubot/pkg/statemachine"
	"gitlab.com/web-doodle/emubot/pkg/vision"
)

var (
	ErrNotReady    = errors.New("emulator is not ready")
	ErrAppNotFound = errors.New("app not registered")
	ErrNoChange    = errors.New("screen did not change")
)

// Transport is the device bridge, normally *adb.Client.
type Transport interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Shell(ctx context.Context, command string) ([]byte, error)
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	LaunchApp(ctx context.Context, packageName string) error
	StopApp(ctx context.Context, packageName string) error
	IsAppRunning(ctx context.Context, packageName string, retries int, wait time.Duration) bool
	CurrentApp(ctx context.Context) (string, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	GoHome(ctx context.Context) error
	GoBack(ctx context.Context) error
	PressEnter(ctx context.Context) error
	PressEsc(ctx context.Context) error
	SendText(ctx context.Context, text string) error
}

// Emulator is the lifecycle controller, normally *emulator.Controller.
type Emulator interface {
	State() statemachine.EmulatorState
	IsReady() bool
	Open(ctx context.Context, opts emulator.OpenOptions) error
	Kill(ctx context.Context) error
}

// TextReader runs OCR, normally *ocr.Checker.
type TextReader interface {
	ReadLines(ctx context.Context, img image.Image, strategy ocr.Strategy) ([]string, error)
	ContainsText(ctx context.Context, text string, img image.Image, strategy ocr.Strategy) (bool, error)
}

// Recorder receives click counts and matcher outcomes, normally
// *metrics.Metrics.
type Recorder interface {
	matcher.Observer
	AddClicks(n int)
}

type Deps struct {
	Transport Transport
	Emulator  Emulator
	Window    emulator.WindowCapturer
	Locator   vision.Locator
	Text      TextReader
	Templates *vision.TemplateCache
	Recorder  Recorder
	Dumper    matcher.Dumper
}

type Controller struct {
	cfg       *config.Config
	transport Transport
	emulator  Emulator
	window    emulator.WindowCapturer
	text      TextReader
	matcher   *matcher.Matcher
	limiter   ratelimit.Limiter
	stream    *adb.Stream
	recorder  Recorder
	logger    *zap.Logger

	mu   sync.Mutex
	apps map[string]*app.App
}

func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Controller {
	logger = logging.OrNop(logger).Named("controller").With(zap.String("session", uuid.NewString()))

	c := &Controller{
		cfg:       cfg,
		transport: deps.Transport,
		emulator:  deps.Emulator,
		window:    deps.Window,
		text:      deps.Text,
		recorder:  deps.Recorder,
		logger:    logger,
		apps:      make(map[string]*app.App),
	}

	if cfg.Controller.ClicksPerSecond > 0 {
		c.limiter = ratelimit.New(cfg.Controller.ClicksPerSecond)
	} else {
		c.limiter = ratelimit.NewUnlimited()
	}

	opts := []matcher.Option{
		matcher.WithDefaults(cfg.Matcher.MaxRetries, cfg.Matcher.WaitTime()),
	}
	if deps.Templates != nil {
		opts = append(opts, matcher.WithTemplateCache(deps.Templates))
	}
	if deps.Recorder != nil {
		opts = append(opts, matcher.WithObserver(deps.Recorder))
	}
	if deps.Dumper != nil {
		opts = append(opts, matcher.WithDumper(deps.Dumper))
	}
	c.matcher = matcher.New(c, deps.Locator, deps.Text, logger, opts...)
	c.stream = adb.NewStream(deps.Transport, cfg.ADB.StreamInterval(), logger)
	return c
}

func (c *Controller) Matcher() *matcher.Matcher {
	return c.matcher
}

func (c *Controller) Emulator() Emulator {
	return c.emulator
}

func (c *Controller) Transport() Transport {
	return c.transport
}

func (c *Controller) IsEmulatorReady() bool {
	return c.emulator.IsReady()
}

func (c *Controller) IsEmulatorLoading() bool {
	return c.emulator.State() == statemachine.EmulatorLoading
}

// ready reports why device actions cannot run right now, if they cannot.
func (c *Controller) ready() error {
	if state := c.emulator.State(); state != statemachine.EmulatorReady {
		return fmt.Errorf("%w: state is %s", ErrNotReady, state)
	}
	if !c.transport.IsConnected() {
		return adb.ErrNotConnected
	}
	return nil
}

// --- apps ---

// AddApp registers a with this controller under its lowercased name, with
// spaces and dashes replaced by underscores.
func (c *Controller) AddApp(a *app.App) error {
	if err := a.Register(c); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps[appKey(a.Name())] = a
	c.logger.Debug("app registered", zap.Stringer("app", a))
	return nil
}

func (c *Controller) App(name string) (*app.App, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.apps[appKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}
	return a, nil
}

func (c *Controller) ListApps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.apps))
	for name := range c.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func appKey(name string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(name)))
}

func (c *Controller) LaunchApp(ctx context.Context, packageName string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.transport.LaunchApp(ctx, packageName)
}

func (c *Controller) StopApp(ctx context.Context, packageName string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.transport.StopApp(ctx, packageName)
}

func (c *Controller) IsAppRunning(ctx context.Context, packageName string, retries int, wait time.Duration) bool {
	if c.ready() != nil {
		return false
	}
	return c.transport.IsAppRunning(ctx, packageName, retries, wait)
}

// --- clicks and lookups ---

// ClickCoord taps coords times times in one shell command. times below one
// uses the configured default.
func (c *Controller) ClickCoord(ctx context.Context, coords element.Coords, times int) error {
	if err := c.ready(); err != nil {
		c.logger.Warn("cannot click", zap.Error(err))
		return err
	}
	if times < 1 {
		times = c.cfg.Controller.DefaultClickTimes
	}
	taps := make([]string, times)
	for i := range taps {
		taps[i] = adb.TapCommand(coords.X, coords.Y)
	}

	c.limiter.Take()
	if _, err := c.transport.Shell(ctx, strings.Join(taps, " && ")); err != nil {
		return fmt.Errorf("clicking (%d, %d): %w", coords.X, coords.Y, err)
	}
	if c.recorder != nil {
		c.recorder.AddClicks(times)
	}
	c.logger.Debug("click sent", zap.Int("x", coords.X), zap.Int("y", coords.Y), zap.Int("times", times))
	return nil
}

// ClickElement finds e and taps its center. Not finding it is reported as
// false with a nil error.
func (c *Controller) ClickElement(ctx context.Context, e *element.Element, times int, opts ...matcher.FindOption) (bool, error) {
	if err := c.ready(); err != nil {
		c.logger.Warn("cannot click element", zap.Stringer("element", e), zap.Error(err))
		return false, err
	}
	coords, ok := c.FindElement(ctx, e, opts...)
	if !ok {
		c.logger.Debug("element not found", zap.Stringer("element", e))
		return false, nil
	}
	if err := c.ClickCoord(ctx, coords, times); err != nil {
		return false, err
	}
	return true, nil
}

// ClickElements clicks the first of elems that is found.
func (c *Controller) ClickElements(ctx context.Context, elems []*element.Element, opts ...matcher.FindOption) (bool, error) {
	for _, e := range elems {
		clicked, err := c.ClickElement(ctx, e, 0, opts...)
		if err != nil || clicked {
			return clicked, err
		}
	}
	return false, nil
}

// FindElement looks e up with the configured retry budget; opts override it.
func (c *Controller) FindElement(ctx context.Context, e *element.Element, opts ...matcher.FindOption) (element.Coords, bool) {
	base := []matcher.FindOption{
		matcher.WithGate(c.emulator),
		matcher.WithMaxRetries(c.cfg.Controller.DefaultMaxTries),
	}
	return c.matcher.WhereElement(ctx, e, append(base, opts...)...)
}

// FindElements returns the first of elems that is found.
func (c *Controller) FindElements(ctx context.Context, elems []*element.Element, opts ...matcher.FindOption) (element.Coords, *element.Element, bool) {
	base := []matcher.FindOption{
		matcher.WithGate(c.emulator),
		matcher.WithMaxRetries(c.cfg.Controller.DefaultMaxTries),
	}
	return c.matcher.WhereElements(ctx, elems, append(base, opts...)...)
}

func (c *Controller) IsElementVisible(ctx context.Context, e *element.Element) bool {
	_, ok := c.FindElement(ctx, e)
	return ok
}

// --- screen and text ---

// CaptureScreen grabs the emulator window while it is loading and asks the
// device bridge otherwise.
func (c *Controller) CaptureScreen(ctx context.Context) ([]byte, error) {
	if c.IsEmulatorLoading() && c.window != nil {
		return c.window.CaptureWindow(ctx)
	}
	if !c.transport.IsConnected() {
		return nil, adb.ErrNotConnected
	}
	return c.transport.CaptureScreenshot(ctx)
}

func (c *Controller) screenImage(ctx context.Context, screen []byte) (image.Image, error) {
	if screen == nil {
		data, err := c.CaptureScreen(ctx)
		if err != nil {
			return nil, err
		}
		screen = data
	}
	return vision.Decode(screen)
}

// ReadText returns the text lines in screen, or in a fresh capture when
// screen is nil.
func (c *Controller) ReadText(ctx context.Context, screen []byte, strategy ocr.Strategy) ([]string, error) {
	img, err := c.screenImage(ctx, screen)
	if err != nil {
		return nil, err
	}
	return c.text.ReadLines(ctx, img, strategy)
}

func (c *Controller) CheckText(ctx context.Context, text string, screen []byte, strategy ocr.Strategy) (bool, error) {
	img, err := c.screenImage(ctx, screen)
	if err != nil {
		return false, err
	}
	return c.text.ContainsText(ctx, text, img, strategy)
}

// EnsureChange repeats action until the screen looks different afterwards,
// up to maxTries times.
func (c *Controller) EnsureChange(ctx context.Context, maxTries int, action func(ctx context.Context) error) error {
	if maxTries < 1 {
		maxTries = c.cfg.Controller.DefaultMaxTries
	}
	for i := 0; i < maxTries; i++ {
		before, err := c.screenImage(ctx, nil)
		if err != nil {
			return err
		}
		if err := action(ctx); err != nil {
			return err
		}
		after, err := c.screenImage(ctx, nil)
		if err != nil {
			return err
		}
		if !vision.Similar(before, after) {
			return nil
		}
		c.logger.Debug("screen unchanged after action", zap.Int("try", i+1))
	}
	return fmt.Errorf("%w after %d tries", ErrNoChange, maxTries)
}

// --- input passthrough ---

func (c *Controller) Tap(ctx context.Context, x, y int) error {
	return c.ClickCoord(ctx, element.Coords{X: x, Y: y}, 1)
}

func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.transport.Swipe(ctx, x1, y1, x2, y2, duration)
}

func (c *Controller) GoHome(ctx context.Context) error { return c.input(ctx, c.transport.GoHome) }
func (c *Controller) GoBack(ctx context.Context) error { return c.input(ctx, c.transport.GoBack) }
func (c *Controller) PressEnter(ctx context.Context) error { return c.input(ctx, c.transport.PressEnter) }
func (c *Controller) PressEsc(ctx context.Context) error { return c.input(ctx, c.transport.PressEsc) }

func (c *Controller) input(ctx context.Context, fn func(context.Context) error) error {
	if err := c.ready(); err != nil {
		return err
	}
	return fn(ctx)
}

func (c *Controller) SendText(ctx context.Context, text string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.transport.SendText(ctx, text)
}

func (c *Controller) Shell(ctx context.Context, command string) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.transport.Shell(ctx, command)
}

func (c *Controller) CurrentApp(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.transport.CurrentApp(ctx)
}

// --- streaming ---

func (c *Controller) StartStream(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.stream.Start(ctx)
	return nil
}

// Frame returns the most recent streamed frame without blocking.
func (c *Controller) Frame() (adb.Frame, bool) {
	return c.stream.Frame()
}

func (c *Controller) StopStream() {
	c.stream.Stop()
}

// Disconnect stops streaming and closes the device bridge.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.stream.Stop()
	if !c.transport.IsConnected() {
		return nil
	}
	return c.transport.Disconnect(ctx)
}
