package adb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/web-doodle/emubot/pkg/config"
)

type response struct {
	out []byte
	err error
}

// fakeRunner answers by the joined argument list; unknown commands succeed
// with empty output.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]response
	block     bool
	calls     []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	r := f.responses[key]
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.out, r.err
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestClient(r *fakeRunner) *Client {
	cfg := config.Default().ADB
	cfg.CommandTimeoutS = 1
	return New(cfg, nil, WithRunner(r))
}

func connected(t *testing.T, r *fakeRunner) *Client {
	t.Helper()
	if r.responses == nil {
		r.responses = map[string]response{}
	}
	r.responses["connect 127.0.0.1:5555"] = response{out: []byte("connected to 127.0.0.1:5555\n")}
	c := newTestClient(r)
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestConnect(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"connect 127.0.0.1:5555": {out: []byte("already connected to 127.0.0.1:5555")},
	}}
	c := newTestClient(r)
	assert.False(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Disconnect(context.Background()))
	assert.False(t, c.IsConnected())
	assert.Equal(t, []string{"connect 127.0.0.1:5555", "disconnect 127.0.0.1:5555"}, r.Calls())

	// A second disconnect does not reach adb.
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Len(t, r.Calls(), 2)
}

func TestConnectFailure(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"connect 127.0.0.1:5555": {out: []byte("failed to connect to 127.0.0.1:5555")},
	}}
	c := newTestClient(r)
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnect)
	assert.False(t, c.IsConnected())
}

func TestDeviceCommandsRequireConnection(t *testing.T) {
	c := newTestClient(&fakeRunner{})
	_, err := c.Shell(context.Background(), "ls")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.CaptureScreenshot(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTimeout(t *testing.T) {
	r := &fakeRunner{}
	c := connected(t, r)
	r.block = true
	c.timeout = 10 * time.Millisecond

	_, err := c.Shell(context.Background(), "sleep 10")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestShellCommands(t *testing.T) {
	r := &fakeRunner{}
	c := connected(t, r)
	ctx := context.Background()

	require.NoError(t, c.Tap(ctx, 10, 20))
	require.NoError(t, c.Swipe(ctx, 1, 2, 3, 4, 300*time.Millisecond))
	require.NoError(t, c.GoHome(ctx))
	require.NoError(t, c.GoBack(ctx))
	require.NoError(t, c.PressEnter(ctx))
	require.NoError(t, c.PressEsc(ctx))
	require.NoError(t, c.SendText(ctx, "hello world"))
	require.NoError(t, c.StopApp(ctx, "com.example.game"))

	assert.Equal(t, []string{
		"connect 127.0.0.1:5555",
		"-s 127.0.0.1:5555 shell input tap 10 20",
		"-s 127.0.0.1:5555 shell input swipe 1 2 3 4 300",
		"-s 127.0.0.1:5555 shell input keyevent 3",
		"-s 127.0.0.1:5555 shell input keyevent 4",
		"-s 127.0.0.1:5555 shell input keyevent 66",
		"-s 127.0.0.1:5555 shell input keyevent 111",
		"-s 127.0.0.1:5555 shell input text 'hello%sworld'",
		"-s 127.0.0.1:5555 shell am force-stop com.example.game",
	}, r.Calls())
}

func TestLaunchApp(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"-s 127.0.0.1:5555 shell monkey -p com.missing -c android.intent.category.LAUNCHER 1": {
			out: []byte("** No activities found to run, monkey aborted."),
		},
	}}
	c := connected(t, r)
	assert.ErrorIs(t, c.LaunchApp(context.Background(), "com.missing"), ErrLaunch)
	assert.NoError(t, c.LaunchApp(context.Background(), "com.example.game"))
}

func TestCaptureScreenshot(t *testing.T) {
	r := &fakeRunner{}
	c := connected(t, r)
	_, err := c.CaptureScreenshot(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCapture)

	r.responses["-s 127.0.0.1:5555 exec-out screencap -p"] = response{out: []byte{0x89, 'P', 'N', 'G'}}
	data, err := c.CaptureScreenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestIsAppRunning(t *testing.T) {
	r := &fakeRunner{}
	c := connected(t, r)
	assert.False(t, c.IsAppRunning(context.Background(), "com.example.game", 3, time.Millisecond))
	assert.Len(t, r.Calls(), 4)

	r.responses["-s 127.0.0.1:5555 shell pidof com.example.game"] = response{out: []byte("1234\n")}
	assert.True(t, c.IsAppRunning(context.Background(), "com.example.game", 3, time.Millisecond))
}

func TestCurrentApp(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"-s 127.0.0.1:5555 shell dumpsys window windows": {out: []byte(
			"  mDisplayId=0\n  mCurrentFocus=Window{4f2 u0 com.example.game/com.example.game.MainActivity}\n")},
	}}
	c := connected(t, r)
	pkg, err := c.CurrentApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.example.game", pkg)
}

func TestRunWrapsErrors(t *testing.T) {
	boom := errors.New("exit status 1")
	r := &fakeRunner{responses: map[string]response{
		"-s 127.0.0.1:5555 shell input tap 1 1": {err: boom},
	}}
	c := connected(t, r)
	assert.ErrorIs(t, c.Tap(context.Background(), 1, 1), boom)
}
