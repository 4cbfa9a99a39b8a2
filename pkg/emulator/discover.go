package emulator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/config"
	"gitlab.com/web-doodle/emubot/pkg/logging"
)

var ErrExecutableNotFound = errors.New("emulator executable not found")

var errStopWalk = errors.New("stop walk")

// Discovery locates the emulator executable: an explicit path first, then
// the install globs, then a walk under Root for a file named Name in a
// directory whose path mentions bluestacks.
type Discovery struct {
	Explicit string
	Globs    []string
	Root     string
	Name     string
	logger   *zap.Logger
}

func NewDiscovery(cfg config.EmulatorConfig, logger *zap.Logger) *Discovery {
	return &Discovery{
		Explicit: cfg.Executable,
		Globs:    cfg.SearchGlobs,
		Root:     cfg.SearchRoot,
		Name:     cfg.ProcessName,
		logger:   logging.OrNop(logger).Named("discovery"),
	}
}

func (d *Discovery) Find(ctx context.Context) (string, error) {
	if d.Explicit != "" {
		if isFile(d.Explicit) {
			return d.Explicit, nil
		}
		d.log().Warn("configured executable does not exist", zap.String("path", d.Explicit))
	}

	for _, pattern := range d.Globs {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			d.log().Debug("bad search glob", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, m := range matches {
			if isFile(m) {
				d.log().Debug("executable found by glob", zap.String("path", m))
				return m, nil
			}
		}
	}

	if d.Root == "" {
		return "", ErrExecutableNotFound
	}
	d.log().Debug("performing broad search", zap.String("root", d.Root))
	return d.walk(ctx)
}

func (d *Discovery) walk(ctx context.Context) (string, error) {
	var (
		mu    sync.Mutex
		found string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, d.Root, func(p string, entry fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || entry.IsDir() {
			return nil
		}
		if !strings.EqualFold(entry.Name(), d.Name) {
			return nil
		}
		if !strings.Contains(strings.ToLower(filepath.Dir(p)), "bluestacks") {
			return nil
		}
		mu.Lock()
		if found == "" {
			found = p
		}
		mu.Unlock()
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", fmt.Errorf("searching %s: %w", d.Root, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: no %s under %s", ErrExecutableNotFound, d.Name, d.Root)
	}
	return found, nil
}

func (d *Discovery) log() *zap.Logger {
	return logging.OrNop(d.logger)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
