// Package element describes locatable UI targets on the emulator screen.
//
// An Element is a closed variant: its Kind decides which payload fields are
// meaningful. Elements are built once, at setup time, and never mutated.
// Identity is by pointer; two elements sharing a label are still distinct.
package element

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/web-doodle/emubot/pkg/ocr"
)

type Kind int

const (
	KindImage Kind = iota
	KindButton
	KindPixel
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindButton:
		return "button"
	case KindPixel:
		return "pixel"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsImage reports whether matching uses template search.
func (k Kind) IsImage() bool {
	return k == KindImage || k == KindButton
}

type Coords struct {
	X int
	Y int
}

type Size struct {
	Width  int
	Height int
}

// Region is a (left, top, right, bottom) box in reference coordinates.
type Region struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

func (r Region) Width() int  { return r.Right - r.Left }
func (r Region) Height() int { return r.Bottom - r.Top }

type Color struct {
	R int
	G int
	B int
}

// Within reports whether every channel of c is within tolerance of other.
func (c Color) Within(other Color, tolerance int) bool {
	return absDiff(c.R, other.R) <= tolerance &&
		absDiff(c.G, other.G) <= tolerance &&
		absDiff(c.B, other.B) <= tolerance
}

func (c Color) valid() bool {
	return inByte(c.R) && inByte(c.G) && inByte(c.B)
}

// DefaultResolution is used when neither the element nor its factory names one.
var DefaultResolution = Size{Width: 1920, Height: 1080}

const DefaultConfidence = 0.9

var (
	ErrInvalidLabel      = errors.New("element label must not be empty")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
	ErrInvalidColor      = errors.New("color channels must be between 0 and 255")
	ErrInvalidTolerance  = errors.New("tolerance must be between 0 and 255")
	ErrInvalidPosition   = errors.New("position must not be negative")
	ErrInvalidSize       = errors.New("size must be positive")
	ErrInvalidResolution = errors.New("resolution must be positive")
	ErrMissingAsset      = errors.New("image element requires an asset path")
	ErrMissingText       = errors.New("text element requires expected text")
	ErrMissingPosition   = errors.New("pixel element requires a position")
)

type Element struct {
	kind       Kind
	label      string
	position   *Coords
	size       *Size
	resolution Size

	// image and button
	asset      string
	confidence float64
	text       string
	static     bool

	// pixel
	color     Color
	tolerance int

	// text
	expected   string
	strategy   ocr.Strategy
	outputPath string
}

func NewImage(label, asset string, opts ...Option) (*Element, error) {
	return build(KindImage, label, func(e *Element) { e.asset = asset }, opts)
}

// NewButton builds an image element tagged as a button. It matches exactly
// like an image.
func NewButton(label, asset string, opts ...Option) (*Element, error) {
	return build(KindButton, label, func(e *Element) { e.asset = asset }, opts)
}

func NewPixel(label string, position Coords, color Color, opts ...Option) (*Element, error) {
	return build(KindPixel, label, func(e *Element) {
		e.position = &position
		e.color = color
	}, opts)
}

func NewText(label, text string, opts ...Option) (*Element, error) {
	return build(KindText, label, func(e *Element) { e.expected = text }, opts)
}

func build(kind Kind, label string, payload func(*Element), opts []Option) (*Element, error) {
	e := &Element{
		kind:       kind,
		label:      normalize(label),
		resolution: DefaultResolution,
		confidence: DefaultConfidence,
	}
	payload(e)
	for _, opt := range opts {
		opt(e)
	}
	e.expected = normalize(e.expected)
	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("element %q: %w", label, err)
	}
	return e, nil
}

func (e *Element) validate() error {
	if e.label == "" {
		return ErrInvalidLabel
	}
	if e.position != nil && (e.position.X < 0 || e.position.Y < 0) {
		return fmt.Errorf("%w: (%d, %d)", ErrInvalidPosition, e.position.X, e.position.Y)
	}
	if e.size != nil && (e.size.Width <= 0 || e.size.Height <= 0) {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, e.size.Width, e.size.Height)
	}
	if e.resolution.Width <= 0 || e.resolution.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, e.resolution.Width, e.resolution.Height)
	}

	switch e.kind {
	case KindImage, KindButton:
		if strings.TrimSpace(e.asset) == "" {
			return ErrMissingAsset
		}
		if e.confidence < 0 || e.confidence > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidConfidence, e.confidence)
		}
	case KindPixel:
		if e.position == nil {
			return ErrMissingPosition
		}
		if !e.color.valid() {
			return fmt.Errorf("%w: %v", ErrInvalidColor, e.color)
		}
		if !inByte(e.tolerance) {
			return fmt.Errorf("%w: %d", ErrInvalidTolerance, e.tolerance)
		}
	case KindText:
		if e.expected == "" {
			return ErrMissingText
		}
	}
	return nil
}

func (e *Element) Kind() Kind { return e.kind }
func (e *Element) Label() string { return e.label }
func (e *Element) Resolution() Size { return e.resolution }
func (e *Element) Asset() string { return e.asset }
func (e *Element) Confidence() float64 { return e.confidence }
func (e *Element) AssociatedText() string { return e.text }
func (e *Element) IsStatic() bool { return e.static }
func (e *Element) Color() Color { return e.color }
func (e *Element) Tolerance() int { return e.tolerance }
func (e *Element) Text() string { return e.expected }
func (e *Element) Strategy() ocr.Strategy { return e.strategy }
func (e *Element) OutputPath() string { return e.outputPath }

func (e *Element) Position() (Coords, bool) {
	if e.position == nil {
		return Coords{}, false
	}
	return *e.position, true
}

func (e *Element) Size() (Size, bool) {
	if e.size == nil {
		return Size{}, false
	}
	return *e.size, true
}

// Region is defined only when both position and size are set.
func (e *Element) Region() (Region, bool) {
	if e.position == nil || e.size == nil {
		return Region{}, false
	}
	return Region{
		Left:   e.position.X,
		Top:    e.position.Y,
		Right:  e.position.X + e.size.Width,
		Bottom: e.position.Y + e.size.Height,
	}, true
}

// Center falls back to the position when no size is set.
func (e *Element) Center() (Coords, bool) {
	if e.position == nil {
		return Coords{}, false
	}
	if e.size == nil {
		return *e.position, true
	}
	return Coords{
		X: e.position.X + e.size.Width/2,
		Y: e.position.Y + e.size.Height/2,
	}, true
}

func (e *Element) String() string {
	return fmt.Sprintf("%s(%s)", e.kind, e.label)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func inByte(v int) bool {
	return v >= 0 && v <= 255
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
