package element

import "gitlab.com/web-doodle/emubot/pkg/config"

// Factory builds elements with configured defaults. Options passed to its
// methods override the defaults.
type Factory struct {
	Resolution Size
	Confidence float64
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		Resolution: Size{Width: cfg.Emulator.ResolutionW, Height: cfg.Emulator.ResolutionH},
		Confidence: cfg.Matcher.DefaultConfidence,
	}
}

func (f *Factory) defaults(opts []Option) []Option {
	base := []Option{
		WithResolution(f.Resolution.Width, f.Resolution.Height),
		WithConfidence(f.Confidence),
	}
	return append(base, opts...)
}

func (f *Factory) Image(label, asset string, opts ...Option) (*Element, error) {
	return NewImage(label, asset, f.defaults(opts)...)
}

func (f *Factory) Button(label, asset string, opts ...Option) (*Element, error) {
	return NewButton(label, asset, f.defaults(opts)...)
}

func (f *Factory) Pixel(label string, position Coords, color Color, opts ...Option) (*Element, error) {
	return NewPixel(label, position, color, f.defaults(opts)...)
}

func (f *Factory) Text(label, text string, opts ...Option) (*Element, error) {
	return NewText(label, text, f.defaults(opts)...)
}
