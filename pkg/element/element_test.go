package element

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionAndCenter(t *testing.T) {
	e, err := NewImage("Play", "assets/play.png", WithPosition(10, 20), WithSize(31, 41))
	require.NoError(t, err)

	region, ok := e.Region()
	require.True(t, ok)
	assert.Equal(t, Region{Left: 10, Top: 20, Right: 41, Bottom: 61}, region)
	assert.Equal(t, 31, region.Width())

	center, ok := e.Center()
	require.True(t, ok)
	assert.Equal(t, Coords{X: 25, Y: 40}, center)
}

func TestCenterFallsBackToPosition(t *testing.T) {
	e, err := NewText("title", "Welcome", WithPosition(7, 9))
	require.NoError(t, err)

	_, ok := e.Region()
	assert.False(t, ok)

	center, ok := e.Center()
	require.True(t, ok)
	assert.Equal(t, Coords{X: 7, Y: 9}, center)

	bare, err := NewText("title", "Welcome", WithSize(5, 5))
	require.NoError(t, err)
	_, ok = bare.Center()
	assert.False(t, ok)
	_, ok = bare.Region()
	assert.False(t, ok)
}

func TestLabelAndTextAreNormalized(t *testing.T) {
	e, err := NewText("  Main_Menu ", "  Press START ")
	require.NoError(t, err)
	assert.Equal(t, "main_menu", e.Label())
	assert.Equal(t, "press start", e.Text())
	assert.Equal(t, KindText, e.Kind())
}

func TestDefaults(t *testing.T) {
	e, err := NewButton("ok", "assets/ok.png")
	require.NoError(t, err)
	assert.Equal(t, DefaultResolution, e.Resolution())
	assert.Equal(t, DefaultConfidence, e.Confidence())
	assert.True(t, e.Kind().IsImage())
	assert.False(t, e.IsStatic())
}

func TestOutputPathIsCarried(t *testing.T) {
	e, err := NewText("gold", "Gold", WithOutputPath("out/gold.txt"))
	require.NoError(t, err)
	assert.Equal(t, "out/gold.txt", e.OutputPath())

	bare, err := NewText("gold", "Gold")
	require.NoError(t, err)
	assert.Empty(t, bare.OutputPath())
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Element, error)
		want  error
	}{
		{"empty label", func() (*Element, error) { return NewImage("  ", "a.png") }, ErrInvalidLabel},
		{"missing asset", func() (*Element, error) { return NewImage("a", "") }, ErrMissingAsset},
		{"confidence high", func() (*Element, error) { return NewImage("a", "a.png", WithConfidence(1.5)) }, ErrInvalidConfidence},
		{"confidence low", func() (*Element, error) { return NewButton("a", "a.png", WithConfidence(-0.1)) }, ErrInvalidConfidence},
		{"negative position", func() (*Element, error) { return NewImage("a", "a.png", WithPosition(-1, 0)) }, ErrInvalidPosition},
		{"zero size", func() (*Element, error) { return NewImage("a", "a.png", WithSize(0, 4)) }, ErrInvalidSize},
		{"bad resolution", func() (*Element, error) { return NewImage("a", "a.png", WithResolution(0, 1080)) }, ErrInvalidResolution},
		{"bad color", func() (*Element, error) { return NewPixel("a", Coords{}, Color{R: 256}) }, ErrInvalidColor},
		{"bad tolerance", func() (*Element, error) { return NewPixel("a", Coords{}, Color{}, WithTolerance(300)) }, ErrInvalidTolerance},
		{"negative tolerance", func() (*Element, error) { return NewPixel("a", Coords{}, Color{}, WithTolerance(-1)) }, ErrInvalidTolerance},
		{"empty text", func() (*Element, error) { return NewText("a", "   ") }, ErrMissingText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := tt.build()
			assert.Nil(t, e)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestColorWithin(t *testing.T) {
	red := Color{R: 255}
	assert.True(t, red.Within(red, 0))
	assert.True(t, red.Within(Color{R: 250, G: 5, B: 5}, 5))
	assert.False(t, red.Within(Color{R: 250, G: 6, B: 5}, 5))
	assert.False(t, red.Within(Color{R: 249}, 5))
}

func TestIdentityIsByPointer(t *testing.T) {
	a, err := NewImage("same", "a.png")
	require.NoError(t, err)
	b, err := NewImage("same", "a.png")
	require.NoError(t, err)
	assert.Equal(t, a.Label(), b.Label())
	assert.NotSame(t, a, b)
}

func TestFactoryDefaults(t *testing.T) {
	f := &Factory{Resolution: Size{Width: 1280, Height: 720}, Confidence: 0.8}

	e, err := f.Image("logo", "logo.png")
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 1280, Height: 720}, e.Resolution())
	assert.Equal(t, 0.8, e.Confidence())

	e, err = f.Button("go", "go.png", WithConfidence(0.6))
	require.NoError(t, err)
	assert.Equal(t, 0.6, e.Confidence())

	p, err := f.Pixel("dot", Coords{X: 1, Y: 2}, Color{G: 255}, WithTolerance(3))
	require.NoError(t, err)
	pos, ok := p.Position()
	require.True(t, ok)
	assert.Equal(t, Coords{X: 1, Y: 2}, pos)
	assert.Equal(t, 3, p.Tolerance())
}
