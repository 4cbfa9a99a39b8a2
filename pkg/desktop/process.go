// Package desktop wraps robotgo for the host side of emulator control:
// finding and killing the emulator process and capturing its window.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"

	"github.com/go-vgo/robotgo"
	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/logging"
	"gitlab.com/web-doodle/emubot/pkg/vision"
)

var ErrNoWindow = errors.New("emulator window not found")

type Processes struct{}

func NewProcesses() *Processes {
	return &Processes{}
}

// FindProcess returns the pids whose process name is exactly name.
// robotgo.FindIds matches substrings, so helper processes are filtered out.
func (p *Processes) FindProcess(name string) ([]int32, error) {
	pids, err := robotgo.FindIds(name)
	if err != nil {
		return nil, err
	}
	var matched []int32
	for _, pid := range pids {
		pname, err := robotgo.FindName(pid)
		if err != nil {
			continue
		}
		if pname == name {
			matched = append(matched, pid)
		}
	}
	return matched, nil
}

func (p *Processes) Kill(pid int32) error {
	return robotgo.Kill(pid)
}

func (p *Processes) Exists(pid int32) (bool, error) {
	return robotgo.PidExists(pid)
}

// Window captures the emulator window, found by process name.
type Window struct {
	processName string
	processes   *Processes
	logger      *zap.Logger
}

func NewWindow(processName string, logger *zap.Logger) *Window {
	return &Window{
		processName: processName,
		processes:   NewProcesses(),
		logger:      logging.OrNop(logger).Named("window"),
	}
}

func (w *Window) CaptureWindow(_ context.Context) ([]byte, error) {
	pids, err := w.processes.FindProcess(w.processName)
	if err != nil {
		return nil, err
	}
	if len(pids) == 0 {
		return nil, ErrNoWindow
	}
	pid := pids[0]
	if err := robotgo.ActivePID(pid); err != nil {
		w.logger.Debug("could not focus emulator window", zap.Int32("pid", pid), zap.Error(err))
	}

	x, y, width, height := robotgo.GetBounds(pid)
	// Bounds are unreliable on some hosts; fall back to the whole screen.
	var img image.Image
	if width > 0 && height > 0 {
		img = robotgo.CaptureImg(x, y, width, height)
	} else {
		img = robotgo.CaptureImg()
	}
	if img == nil {
		return nil, fmt.Errorf("capturing window of pid %d", pid)
	}
	return vision.Encode(img)
}

// Launcher starts the emulator executable detached from this process.
type Launcher struct{}

func (Launcher) Launch(_ context.Context, path string, args ...string) error {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", path, err)
	}
	return cmd.Process.Release()
}
