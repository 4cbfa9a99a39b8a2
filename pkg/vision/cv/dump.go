package cv

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vcaesar/gcv"
	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/logging"
)

// Dumper writes inspected haystacks to disk in debug mode.
type Dumper struct {
	dir    string
	seq    atomic.Int64
	logger *zap.Logger
}

func NewDumper(dir string, logger *zap.Logger) (*Dumper, error) {
	dir = filepath.Join(dir, fmt.Sprintf("%d", time.Now().Unix()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating debug dir: %w", err)
	}
	return &Dumper{dir: dir, logger: logging.OrNop(logger).Named("dump")}, nil
}

func (d *Dumper) Dump(label string, img image.Image) {
	name := fmt.Sprintf("%04d-%s.jpg", d.seq.Add(1), label)
	path := filepath.Join(d.dir, name)
	if !gcv.ImgWrite(path, img) {
		d.logger.Warn("failed to write debug image", zap.String("path", path))
	}
}
