// Package adb drives the emulator over the Android debug bridge.
package adb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/logging"
)

var (
	ErrTimeout      = errors.New("adb command timed out")
	ErrNotConnected = errors.New("adb device not connected")
	ErrConnect      = errors.New("adb connect failed")
	ErrEmptyCapture = errors.New("adb returned an empty screenshot")
	ErrLaunch       = errors.New("app launch failed")
)

// Android key codes used by the client.
const (
	KeyHome   = 3
	KeyBack   = 4
	KeyEnter  = 66
	KeyEscape = 111
)

type Client struct {
	binary    string
	serial    string
	timeout   time.Duration
	runner    Runner
	connected atomic.Bool
	logger    *zap.Logger
}

type Option func(*Client)

func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

func New(cfg config.ADBConfig, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		binary:  cfg.Binary,
		serial:  cfg.Serial(),
		timeout: cfg.CommandTimeout(),
		runner:  execRunner{},
		logger:  logging.OrNop(logger).Named("adb"),
	}
	if c.binary == "" {
		c.binary = "adb"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Serial() string {
	return c.serial
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out, err := c.runner.Run(ctx, c.binary, args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: adb %s", ErrTimeout, strings.Join(args, " "))
	}
	if err != nil {
		return out, fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

func (c *Client) device(ctx context.Context, args ...string) ([]byte, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.run(ctx, append([]string{"-s", c.serial}, args...)...)
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Connect(ctx context.Context) error {
	out, err := c.run(ctx, "connect", c.serial)
	if err != nil {
		return err
	}
	msg := strings.ToLower(string(out))
	if !strings.Contains(msg, "connected to") {
		return fmt.Errorf("%w: %s", ErrConnect, strings.TrimSpace(string(out)))
	}
	c.connected.Store(true)
	c.logger.Info("connected", zap.String("serial", c.serial))
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	if !c.connected.Swap(false) {
		return nil
	}
	if _, err := c.run(ctx, "disconnect", c.serial); err != nil {
		return err
	}
	c.logger.Info("disconnected", zap.String("serial", c.serial))
	return nil
}

// Shell runs command in the device shell. Commands may be chained with &&.
func (c *Client) Shell(ctx context.Context, command string) ([]byte, error) {
	return c.device(ctx, "shell", command)
}

func (c *Client) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	out, err := c.device(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyCapture
	}
	return out, nil
}

func (c *Client) LaunchApp(ctx context.Context, packageName string) error {
	out, err := c.Shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", packageName))
	if err != nil {
		return err
	}
	if strings.Contains(string(out), "No activities found") {
		return fmt.Errorf("%w: %s has no launcher activity", ErrLaunch, packageName)
	}
	return nil
}

func (c *Client) StopApp(ctx context.Context, packageName string) error {
	_, err := c.Shell(ctx, "am force-stop "+packageName)
	return err
}

// IsAppRunning checks for a process of packageName up to retries times.
func (c *Client) IsAppRunning(ctx context.Context, packageName string, retries int, wait time.Duration) bool {
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		out, err := c.Shell(ctx, "pidof "+packageName)
		if err == nil && strings.TrimSpace(string(out)) != "" {
			return true
		}
		if i == retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
	return false
}

var focusPattern = regexp.MustCompile(`mCurrentFocus=.*\s([A-Za-z0-9_.]+)/`)

// CurrentApp returns the package owning the focused window.
func (c *Client) CurrentApp(ctx context.Context) (string, error) {
	out, err := c.Shell(ctx, "dumpsys window windows")
	if err != nil {
		return "", err
	}
	m := focusPattern.FindStringSubmatch(string(out))
	if m == nil {
		return "", errors.New("no focused window")
	}
	return m[1], nil
}

// TapCommand is the shell command for a tap, for chaining several taps.
func TapCommand(x, y int) string {
	return fmt.Sprintf("input tap %d %d", x, y)
}

func (c *Client) Tap(ctx context.Context, x, y int) error {
	_, err := c.Shell(ctx, TapCommand(x, y))
	return err
}

func (c *Client) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, duration.Milliseconds()))
	return err
}

func (c *Client) KeyEvent(ctx context.Context, code int) error {
	_, err := c.Shell(ctx, "input keyevent "+strconv.Itoa(code))
	return err
}

func (c *Client) GoHome(ctx context.Context) error { return c.KeyEvent(ctx, KeyHome) }
func (c *Client) GoBack(ctx context.Context) error { return c.KeyEvent(ctx, KeyBack) }
func (c *Client) PressEnter(ctx context.Context) error { return c.KeyEvent(ctx, KeyEnter) }
func (c *Client) PressEsc(ctx context.Context) error { return c.KeyEvent(ctx, KeyEscape) }

// SendText types text into the focused field.
func (c *Client) SendText(ctx context.Context, text string) error {
	_, err := c.Shell(ctx, "input text "+quoteText(text))
	return err
}

func quoteText(text string) string {
	text = strings.ReplaceAll(text, "%", `\%`)
	text = strings.ReplaceAll(text, " ", "%s")
	return "'" + strings.ReplaceAll(text, "'", `'\''`) + "'"
}
