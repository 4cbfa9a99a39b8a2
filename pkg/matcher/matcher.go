// Package matcher resolves elements to screen coordinates.
//
// A lookup runs single attempts under a retry policy. Not finding an element
// is a normal result, reported as ok == false and never as an error.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/element"
	"gitlab.com/web-doodle/emubot/pkg/logging"
	"gitlab.com/web-doodle/emubot/pkg/ocr"
	"gitlab.com/web-doodle/emubot/pkg/statemachine"
	"gitlab.com/web-doodle/emubot/pkg/vision"
)

// ScreenSource captures the current emulator screen as PNG or JPEG bytes.
type ScreenSource interface {
	CaptureScreen(ctx context.Context) ([]byte, error)
}

// TextChecker reports whether text is visible in img.
type TextChecker interface {
	ContainsText(ctx context.Context, text string, img image.Image, strategy ocr.Strategy) (bool, error)
}

// StateReporter exposes the emulator lifecycle state. Lookups against a
// CLOSED emulator return immediately.
type StateReporter interface {
	State() statemachine.EmulatorState
}

// Dumper receives every haystack a lookup inspects.
type Dumper interface {
	Dump(label string, img image.Image)
}

// Observer is notified of attempt outcomes.
type Observer interface {
	ObserveAttempt(kind, outcome string)
	ObserveLookup(kind string, found bool, attempts int, elapsed time.Duration)
}

const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// errPermanent marks failures that another attempt cannot fix.
var errPermanent = errors.New("permanent match failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}

type Matcher struct {
	source     ScreenSource
	locator    vision.Locator
	text       TextChecker
	templates  *vision.TemplateCache
	maxRetries int
	wait       time.Duration
	logger     *zap.Logger
	observer   Observer
	dumper     Dumper
}

type Option func(*Matcher)

func WithTemplateCache(cache *vision.TemplateCache) Option {
	return func(m *Matcher) { m.templates = cache }
}

// WithDefaults sets the retry policy used when a lookup does not override it.
func WithDefaults(maxRetries int, wait time.Duration) Option {
	return func(m *Matcher) {
		m.maxRetries = maxRetries
		m.wait = wait
	}
}

func WithObserver(o Observer) Option {
	return func(m *Matcher) { m.observer = o }
}

func WithDumper(d Dumper) Option {
	return func(m *Matcher) { m.dumper = d }
}

func New(source ScreenSource, locator vision.Locator, text TextChecker, logger *zap.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		source:     source,
		locator:    locator,
		text:       text,
		maxRetries: 3,
		wait:       time.Second,
		logger:     logging.OrNop(logger).Named("matcher"),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.templates == nil {
		m.templates = vision.NewTemplateCache()
	}
	return m
}

// WhereElement looks for e until it is found or the retry budget runs out.
// A retry budget of zero or less polls until found or ctx is done.
func (m *Matcher) WhereElement(ctx context.Context, e *element.Element, opts ...FindOption) (element.Coords, bool) {
	o := m.options(opts)
	if o.gate != nil && o.gate.State() == statemachine.EmulatorClosed {
		m.logger.Debug("emulator closed, skipping lookup", zap.Stringer("element", e))
		return element.Coords{}, false
	}

	start := time.Now()
	coords, found, attempts := m.retry(ctx, e, o)
	m.observer.ObserveLookup(e.Kind().String(), found, attempts, time.Since(start))
	return coords, found
}

func (m *Matcher) retry(ctx context.Context, e *element.Element, o findOptions) (element.Coords, bool, int) {
	log := m.logger.With(zap.Stringer("element", e))
	kind := e.Kind().String()

	for attempt := 1; ; attempt++ {
		coords, found, err := m.Match(ctx, e, o.screen)
		switch {
		case err == nil && found:
			m.observer.ObserveAttempt(kind, OutcomeFound)
			log.Debug("element found", zap.Int("attempt", attempt), zap.Int("x", coords.X), zap.Int("y", coords.Y))
			return coords, true, attempt
		case errors.Is(err, errPermanent):
			m.observer.ObserveAttempt(kind, OutcomeError)
			log.Error("giving up on element", zap.Error(err))
			return element.Coords{}, false, attempt
		case err != nil:
			m.observer.ObserveAttempt(kind, OutcomeError)
			log.Warn("match attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		default:
			m.observer.ObserveAttempt(kind, OutcomeNotFound)
		}

		if o.maxRetries > 0 && attempt >= o.maxRetries {
			log.Debug("element not found", zap.Int("attempts", attempt))
			return element.Coords{}, false, attempt
		}
		if !sleep(ctx, o.wait) {
			return element.Coords{}, false, attempt
		}
	}
}

// WhereElements tries each element in order with the same options and
// returns the first one found.
func (m *Matcher) WhereElements(ctx context.Context, elems []*element.Element, opts ...FindOption) (element.Coords, *element.Element, bool) {
	for _, e := range elems {
		if coords, ok := m.WhereElement(ctx, e, opts...); ok {
			return coords, e, true
		}
	}
	return element.Coords{}, nil, false
}

// Match runs a single attempt against screen, or a fresh capture when screen
// is nil.
func (m *Matcher) Match(ctx context.Context, e *element.Element, screen []byte) (element.Coords, bool, error) {
	switch e.Kind() {
	case element.KindImage, element.KindButton:
		return m.matchImage(ctx, e, screen)
	case element.KindPixel:
		return m.matchPixel(ctx, e, screen)
	case element.KindText:
		return m.matchText(ctx, e, screen)
	}
	return element.Coords{}, false, permanent(fmt.Errorf("unknown element kind %v", e.Kind()))
}

func (m *Matcher) haystack(ctx context.Context, e *element.Element, screen []byte) (image.Image, error) {
	if screen == nil {
		if m.source == nil {
			return nil, permanent(errors.New("no screen source configured"))
		}
		data, err := m.source.CaptureScreen(ctx)
		if err != nil {
			return nil, fmt.Errorf("capturing screen: %w", err)
		}
		screen = data
	}
	img, err := vision.Decode(screen)
	if err != nil {
		return nil, err
	}
	if m.dumper != nil {
		m.dumper.Dump(e.Label(), img)
	}
	return img, nil
}

func (m *Matcher) matchImage(ctx context.Context, e *element.Element, screen []byte) (element.Coords, bool, error) {
	if m.locator == nil {
		return element.Coords{}, false, permanent(errors.New("no template locator configured"))
	}
	tpl, err := m.templates.Get(e.Asset())
	if err != nil {
		return element.Coords{}, false, permanent(err)
	}
	img, err := m.haystack(ctx, e, screen)
	if err != nil {
		return element.Coords{}, false, err
	}

	ref := reference(e)
	needle := vision.ScaleTemplate(tpl, ref, img.Bounds().Size())

	var search image.Rectangle
	if r, ok := e.Region(); ok {
		search = vision.ScaleRegion(image.Rect(r.Left, r.Top, r.Right, r.Bottom), ref, img.Bounds())
		if search.Empty() {
			return element.Coords{}, false, nil
		}
	}

	box, err := m.locator.Locate(img, needle, e.Confidence(), search)
	if errors.Is(err, vision.ErrNotFound) {
		return element.Coords{}, false, nil
	}
	if err != nil {
		return element.Coords{}, false, err
	}
	c := vision.Center(box)
	return element.Coords{X: c.X, Y: c.Y}, true, nil
}

func (m *Matcher) matchPixel(ctx context.Context, e *element.Element, screen []byte) (element.Coords, bool, error) {
	img, err := m.haystack(ctx, e, screen)
	if err != nil {
		return element.Coords{}, false, err
	}
	pos, _ := e.Position()
	c, err := vision.PixelAt(img, pos.X, pos.Y)
	if err != nil {
		return element.Coords{}, false, permanent(err)
	}
	actual := element.Color{R: int(c.R), G: int(c.G), B: int(c.B)}
	if !actual.Within(e.Color(), e.Tolerance()) {
		return element.Coords{}, false, nil
	}
	return pos, true, nil
}

func (m *Matcher) matchText(ctx context.Context, e *element.Element, screen []byte) (element.Coords, bool, error) {
	if m.text == nil {
		return element.Coords{}, false, permanent(errors.New("no text checker configured"))
	}
	img, err := m.haystack(ctx, e, screen)
	if err != nil {
		return element.Coords{}, false, err
	}
	if r, ok := e.Region(); ok {
		search := vision.ScaleRegion(image.Rect(r.Left, r.Top, r.Right, r.Bottom), reference(e), img.Bounds())
		if search.Empty() {
			return element.Coords{}, false, nil
		}
		img = vision.Crop(img, search)
	}

	found, err := m.text.ContainsText(ctx, e.Text(), img, e.Strategy())
	if err != nil || !found {
		return element.Coords{}, false, err
	}
	// Without geometry there is nowhere better to point at than the origin.
	center, _ := e.Center()
	return center, true, nil
}

func reference(e *element.Element) image.Point {
	r := e.Resolution()
	return image.Pt(r.Width, r.Height)
}

// sleep waits for d or until ctx is done, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string) {}
func (nopObserver) ObserveLookup(string, bool, int, time.Duration) {}
