package controller

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/web-doodle/emubot/pkg/adb"
	"gitlab.com/web-doodle/emubot/pkg/app"
	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/element"
	"gitlab.com/web-doodle/emubot/pkg/emulator"
	"gitlab.com/web-doodle/emubot/pkg/matcher"
	"gitlab.com/web-doodle/emubot/pkg/ocr"
	"gitlab.com/web-doodle/emubot/pkg/statemachine"
	"gitlab.com/web-doodle/emubot/pkg/vision"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, c)
		}
	}
	data, err := vision.Encode(img)
	require.NoError(t, err)
	return data
}

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	screens     [][]byte
	captures    int
	shells      []string
	launched    []string
	stopped     []string
	running     bool
	keys        []string
	text        []string
	disconnects int
}

func (f *fakeTransport) IsConnected() bool { return f.connected }

func (f *fakeTransport) Connect(context.Context) error {
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeTransport) Shell(_ context.Context, cmd string) ([]byte, error) {
	f.shells = append(f.shells, cmd)
	return nil, nil
}

// CaptureScreenshot walks through screens and repeats the last one.
func (f *fakeTransport) CaptureScreenshot(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.screens) == 0 {
		return nil, adb.ErrEmptyCapture
	}
	i := f.captures
	if i >= len(f.screens) {
		i = len(f.screens) - 1
	}
	f.captures++
	return f.screens[i], nil
}

func (f *fakeTransport) LaunchApp(_ context.Context, pkg string) error {
	f.launched = append(f.launched, pkg)
	return nil
}

func (f *fakeTransport) StopApp(_ context.Context, pkg string) error {
	f.stopped = append(f.stopped, pkg)
	return nil
}

func (f *fakeTransport) IsAppRunning(context.Context, string, int, time.Duration) bool {
	return f.running
}

func (f *fakeTransport) CurrentApp(context.Context) (string, error) {
	return "com.example.game", nil
}

func (f *fakeTransport) Tap(context.Context, int, int) error { return nil }

func (f *fakeTransport) Swipe(context.Context, int, int, int, int, time.Duration) error {
	f.keys = append(f.keys, "swipe")
	return nil
}

func (f *fakeTransport) GoHome(context.Context) error {
	f.keys = append(f.keys, "home")
	return nil
}

func (f *fakeTransport) GoBack(context.Context) error {
	f.keys = append(f.keys, "back")
	return nil
}

func (f *fakeTransport) PressEnter(context.Context) error {
	f.keys = append(f.keys, "enter")
	return nil
}

func (f *fakeTransport) PressEsc(context.Context) error {
	f.keys = append(f.keys, "esc")
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, text string) error {
	f.text = append(f.text, text)
	return nil
}

type fakeEmulator struct {
	state statemachine.EmulatorState
}

func (f *fakeEmulator) State() statemachine.EmulatorState { return f.state }
func (f *fakeEmulator) IsReady() bool { return f.state == statemachine.EmulatorReady }

func (f *fakeEmulator) Open(context.Context, emulator.OpenOptions) error {
	f.state = statemachine.EmulatorReady
	return nil
}

func (f *fakeEmulator) Kill(context.Context) error {
	f.state = statemachine.EmulatorClosed
	return nil
}

type fakeWindow struct {
	data  []byte
	calls int
}

func (f *fakeWindow) CaptureWindow(context.Context) ([]byte, error) {
	f.calls++
	return f.data, nil
}

type fakeText struct {
	lines []string
	sizes []image.Point
}

func (f *fakeText) ReadLines(_ context.Context, img image.Image, _ ocr.Strategy) ([]string, error) {
	f.sizes = append(f.sizes, img.Bounds().Size())
	return f.lines, nil
}

func (f *fakeText) ContainsText(_ context.Context, text string, img image.Image, _ ocr.Strategy) (bool, error) {
	f.sizes = append(f.sizes, img.Bounds().Size())
	for _, l := range f.lines {
		if l == text {
			return true, nil
		}
	}
	return false, nil
}

type fakeRecorder struct {
	clicks  int
	lookups int
}

func (f *fakeRecorder) ObserveAttempt(string, string) {}

func (f *fakeRecorder) ObserveLookup(string, bool, int, time.Duration) { f.lookups++ }

func (f *fakeRecorder) AddClicks(n int) { f.clicks += n }

type harness struct {
	ctrl      *Controller
	transport *fakeTransport
	emulator  *fakeEmulator
	window    *fakeWindow
	text      *fakeText
	recorder  *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Matcher.WaitTimeMS = 1
	cfg.Controller.DefaultMaxTries = 2
	cfg.Controller.ClicksPerSecond = 0
	cfg.ADB.StreamIntervalMS = 1

	h := &harness{
		transport: &fakeTransport{connected: true, screens: [][]byte{solidPNG(t, color.White)}},
		emulator:  &fakeEmulator{state: statemachine.EmulatorReady},
		window:    &fakeWindow{data: solidPNG(t, color.Black)},
		text:      &fakeText{},
		recorder:  &fakeRecorder{},
	}
	h.ctrl = New(cfg, Deps{
		Transport: h.transport,
		Emulator:  h.emulator,
		Window:    h.window,
		Text:      h.text,
		Recorder:  h.recorder,
	}, nil)
	return h
}

func whitePixel(t *testing.T) *element.Element {
	t.Helper()
	e, err := element.NewPixel("white_dot", element.Coords{X: 10, Y: 20}, element.Color{R: 255, G: 255, B: 255})
	require.NoError(t, err)
	return e
}

func redPixel(t *testing.T) *element.Element {
	t.Helper()
	e, err := element.NewPixel("red_dot", element.Coords{X: 30, Y: 40}, element.Color{R: 255})
	require.NoError(t, err)
	return e
}

func TestClickCoordJoinsTaps(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ClickCoord(context.Background(), element.Coords{X: 5, Y: 6}, 3))

	require.Len(t, h.transport.shells, 1)
	assert.Equal(t, "input tap 5 6 && input tap 5 6 && input tap 5 6", h.transport.shells[0])
	assert.Equal(t, 3, h.recorder.clicks)
}

func TestClickCoordDefaultsTimes(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ClickCoord(context.Background(), element.Coords{X: 1, Y: 2}, 0))
	assert.Equal(t, []string{"input tap 1 2"}, h.transport.shells)
}

func TestClickCoordRequiresReady(t *testing.T) {
	h := newHarness(t)
	h.emulator.state = statemachine.EmulatorLoading

	err := h.ctrl.ClickCoord(context.Background(), element.Coords{X: 1, Y: 2}, 1)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, h.transport.shells)
}

func TestClickCoordRequiresConnection(t *testing.T) {
	h := newHarness(t)
	h.transport.connected = false

	err := h.ctrl.ClickCoord(context.Background(), element.Coords{X: 1, Y: 2}, 1)
	assert.ErrorIs(t, err, adb.ErrNotConnected)
	assert.Empty(t, h.transport.shells)
}

func TestClickElement(t *testing.T) {
	h := newHarness(t)

	clicked, err := h.ctrl.ClickElement(context.Background(), whitePixel(t), 1)
	require.NoError(t, err)
	assert.True(t, clicked)
	assert.Equal(t, []string{"input tap 10 20"}, h.transport.shells)
}

func TestClickElementNotFound(t *testing.T) {
	h := newHarness(t)

	clicked, err := h.ctrl.ClickElement(context.Background(), redPixel(t), 1)
	require.NoError(t, err)
	assert.False(t, clicked)
	assert.Empty(t, h.transport.shells)
	// Default budget of two tries.
	assert.Equal(t, 2, h.transport.captures)
}

func TestClickElementsClicksFirstFound(t *testing.T) {
	h := newHarness(t)

	clicked, err := h.ctrl.ClickElements(context.Background(),
		[]*element.Element{redPixel(t), whitePixel(t)}, matcher.WithMaxRetries(1))
	require.NoError(t, err)
	assert.True(t, clicked)
	assert.Equal(t, []string{"input tap 10 20"}, h.transport.shells)
}

func TestFindElementGatedByEmulatorState(t *testing.T) {
	h := newHarness(t)
	h.emulator.state = statemachine.EmulatorClosed

	_, ok := h.ctrl.FindElement(context.Background(), whitePixel(t))
	assert.False(t, ok)
	assert.Zero(t, h.transport.captures)
	assert.Zero(t, h.window.calls)
}

func TestFindElements(t *testing.T) {
	h := newHarness(t)
	white := whitePixel(t)

	coords, found, ok := h.ctrl.FindElements(context.Background(), []*element.Element{redPixel(t), white}, matcher.WithMaxRetries(1))
	require.True(t, ok)
	assert.Same(t, white, found)
	assert.Equal(t, element.Coords{X: 10, Y: 20}, coords)
}

func TestCaptureScreenUsesWindowWhileLoading(t *testing.T) {
	h := newHarness(t)
	h.emulator.state = statemachine.EmulatorLoading

	data, err := h.ctrl.CaptureScreen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.window.data, data)
	assert.Equal(t, 1, h.window.calls)
	assert.Zero(t, h.transport.captures)
}

func TestCaptureScreenNeedsConnection(t *testing.T) {
	h := newHarness(t)
	h.transport.connected = false

	_, err := h.ctrl.CaptureScreen(context.Background())
	assert.ErrorIs(t, err, adb.ErrNotConnected)
}

func TestAppRegistry(t *testing.T) {
	h := newHarness(t)
	a, err := app.New("Sample Game", "com.example.game")
	require.NoError(t, err)

	require.NoError(t, h.ctrl.AddApp(a))
	got, err := h.ctrl.App("sample-game")
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Equal(t, []string{"sample_game"}, h.ctrl.ListApps())

	_, err = h.ctrl.App("missing")
	assert.ErrorIs(t, err, ErrAppNotFound)
}

func TestAppRegisteredElsewhere(t *testing.T) {
	first := newHarness(t)
	second := newHarness(t)
	a, err := app.New("Game", "com.example.game")
	require.NoError(t, err)

	require.NoError(t, first.ctrl.AddApp(a))
	require.NoError(t, first.ctrl.AddApp(a))
	assert.ErrorIs(t, second.ctrl.AddApp(a), app.ErrAlreadyRegistered)
}

func TestAppLifecycleThroughController(t *testing.T) {
	h := newHarness(t)
	a, err := app.New("Game", "com.example.game",
		app.WithConfig(config.AppConfig{ActionTimeoutS: 1, ActionWaitMS: 1}))
	require.NoError(t, err)
	require.NoError(t, h.ctrl.AddApp(a))
	h.transport.running = true

	ctx := context.Background()
	require.NoError(t, a.Open(ctx))
	require.NoError(t, a.WaitReady(ctx, time.Second))
	assert.True(t, a.IsOpen())
	assert.Equal(t, []string{"com.example.game"}, h.transport.launched)

	require.NoError(t, a.Close(ctx))
	assert.True(t, a.IsClosed())
	assert.Equal(t, []string{"com.example.game"}, h.transport.stopped)
}

func TestAppOpenNeedsReadyEmulator(t *testing.T) {
	h := newHarness(t)
	h.emulator.state = statemachine.EmulatorClosed
	a, err := app.New("Game", "com.example.game")
	require.NoError(t, err)
	require.NoError(t, h.ctrl.AddApp(a))

	assert.ErrorIs(t, a.Open(context.Background()), ErrNotReady)
	assert.True(t, a.IsClosed())
	assert.Empty(t, h.transport.launched)
}

func TestReadAndCheckText(t *testing.T) {
	h := newHarness(t)
	h.text.lines = []string{"play", "settings"}

	lines, err := h.ctrl.ReadText(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"play", "settings"}, lines)
	assert.Equal(t, 1, h.transport.captures)

	ok, err := h.ctrl.CheckText(context.Background(), "settings", solidPNG(t, color.Black), nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.transport.captures)
}

func TestEnsureChange(t *testing.T) {
	h := newHarness(t)
	h.transport.screens = [][]byte{solidPNG(t, color.White), solidPNG(t, color.Black)}

	var actions int
	err := h.ctrl.EnsureChange(context.Background(), 3, func(context.Context) error {
		actions++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, actions)
}

func TestEnsureChangeGivesUp(t *testing.T) {
	h := newHarness(t)

	var actions int
	err := h.ctrl.EnsureChange(context.Background(), 2, func(context.Context) error {
		actions++
		return nil
	})
	assert.ErrorIs(t, err, ErrNoChange)
	assert.Equal(t, 2, actions)
}

func TestEnsureChangeActionError(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")

	err := h.ctrl.EnsureChange(context.Background(), 2, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestInputPassthrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.GoHome(ctx))
	require.NoError(t, h.ctrl.GoBack(ctx))
	require.NoError(t, h.ctrl.PressEnter(ctx))
	require.NoError(t, h.ctrl.PressEsc(ctx))
	require.NoError(t, h.ctrl.Swipe(ctx, 0, 0, 10, 10, time.Millisecond))
	require.NoError(t, h.ctrl.SendText(ctx, "hello"))
	assert.Equal(t, []string{"home", "back", "enter", "esc", "swipe"}, h.transport.keys)
	assert.Equal(t, []string{"hello"}, h.transport.text)

	current, err := h.ctrl.CurrentApp(ctx)
	require.NoError(t, err)
	assert.Equal(t, "com.example.game", current)

	h.emulator.state = statemachine.EmulatorClosed
	assert.ErrorIs(t, h.ctrl.GoHome(ctx), ErrNotReady)
	_, err = h.ctrl.Shell(ctx, "ls")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestStreamAndDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.StartStream(ctx))
	require.Eventually(t, func() bool {
		_, ok := h.ctrl.Frame()
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, h.ctrl.Disconnect(ctx))
	assert.Equal(t, 1, h.transport.disconnects)
	assert.False(t, h.transport.connected)

	require.NoError(t, h.ctrl.Disconnect(ctx))
	assert.Equal(t, 1, h.transport.disconnects)
}

func TestStartStreamRequiresReady(t *testing.T) {
	h := newHarness(t)
	h.emulator.state = statemachine.EmulatorLoading

	assert.ErrorIs(t, h.ctrl.StartStream(context.Background()), ErrNotReady)
}
