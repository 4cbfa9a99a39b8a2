package adb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/logging"
)

// Frame is one captured screenshot.
type Frame struct {
	Data []byte
	Seq  uint64
	At   time.Time
}

// FrameBuffer holds the most recent frame only. Writers overwrite, readers
// never block.
type FrameBuffer struct {
	mu    sync.Mutex
	frame Frame
	seq   uint64
}

func (b *FrameBuffer) Put(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.frame = Frame{Data: data, Seq: b.seq, At: time.Now()}
}

// Latest returns the last frame, or false if none was published yet.
func (b *FrameBuffer) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.seq > 0
}

type capturer interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// Stream polls screenshots into a FrameBuffer from a background goroutine.
type Stream struct {
	source   capturer
	interval time.Duration
	buffer   *FrameBuffer
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStream(source capturer, interval time.Duration, logger *zap.Logger) *Stream {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Stream{
		source:   source,
		interval: interval,
		buffer:   &FrameBuffer{},
		logger:   logging.OrNop(logger).Named("stream"),
	}
}

// Start is a no-op when the stream is already running.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Stream) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		data, err := s.source.CaptureScreenshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("stream capture failed", zap.Error(err))
		} else {
			s.buffer.Put(data)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the producer and waits for it to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Stream) Frame() (Frame, bool) {
	return s.buffer.Latest()
}
