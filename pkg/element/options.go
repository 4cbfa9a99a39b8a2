package element

import "gitlab.com/web-doodle/emubot/pkg/ocr"

// Option configures an Element during construction. Options that do not apply
// to an element's kind are ignored.
type Option func(*Element)

func WithPosition(x, y int) Option {
	return func(e *Element) {
		e.position = &Coords{X: x, Y: y}
	}
}

func WithSize(width, height int) Option {
	return func(e *Element) {
		e.size = &Size{Width: width, Height: height}
	}
}

// WithResolution sets the resolution the element's geometry and template
// were captured at.
func WithResolution(width, height int) Option {
	return func(e *Element) {
		e.resolution = Size{Width: width, Height: height}
	}
}

func WithConfidence(confidence float64) Option {
	return func(e *Element) {
		e.confidence = confidence
	}
}

// WithText attaches descriptive text to an image or button.
func WithText(text string) Option {
	return func(e *Element) {
		e.text = text
	}
}

func Static() Option {
	return func(e *Element) {
		e.static = true
	}
}

func WithTolerance(tolerance int) Option {
	return func(e *Element) {
		e.tolerance = tolerance
	}
}

func WithStrategy(strategy ocr.Strategy) Option {
	return func(e *Element) {
		e.strategy = strategy
	}
}

// WithOutputPath attaches a file path to the element. Callers read it back
// with OutputPath; nothing in emubot writes to it.
func WithOutputPath(path string) Option {
	return func(e *Element) {
		e.outputPath = path
	}
}
