package ocr

import (
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// DefaultStrategy greyscales and upscales the image, inverts it when the
// background is dark and binarizes it around its mean brightness.
type DefaultStrategy struct {
	UpscaleFactor float64
	InversionMean int
	Args          string
}

func NewDefaultStrategy() *DefaultStrategy {
	return &DefaultStrategy{
		UpscaleFactor: 2.0,
		InversionMean: 127,
		Args:          "--oem 3 --psm 6",
	}
}

func (s *DefaultStrategy) Preprocess(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	if s.UpscaleFactor > 1 {
		w := uint(float64(gray.Bounds().Dx()) * s.UpscaleFactor)
		gray = imaging.Clone(resize.Resize(w, 0, gray, resize.Lanczos3))
	}
	mean := meanBrightness(gray)
	if mean < s.InversionMean {
		gray = imaging.Invert(gray)
		mean = 255 - mean
	}
	return binarize(gray, uint8(mean), false)
}

// TesseractConfig applies Args on top of single-block segmentation. Args are
// checked when the configuration loads, so a bad value here is dropped.
func (s *DefaultStrategy) TesseractConfig() TesseractConfig {
	cfg, err := ParseArgs(s.Args)
	if err != nil {
		cfg = TesseractConfig{}
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = PSMSingleBlock
	}
	return cfg
}

func (s *DefaultStrategy) Postprocess(text string) string {
	return strings.Join(splitLines(text), "\n")
}

// ThresholdStrategy crops to a fraction of the image and binarizes at a fixed
// threshold. It suits short labels on flat backgrounds.
type ThresholdStrategy struct {
	Threshold   uint8
	Invert      bool
	Whitelist   string
	PageSegMode int

	// Crop ratios in [0,1], measured from each edge.
	CropLeft   float64
	CropTop    float64
	CropRight  float64
	CropBottom float64
}

func NewThresholdStrategy(threshold uint8) *ThresholdStrategy {
	return &ThresholdStrategy{Threshold: threshold, PageSegMode: PSMSingleLine}
}

func (s *ThresholdStrategy) Preprocess(img image.Image) image.Image {
	b := img.Bounds()
	rect := image.Rect(
		b.Min.X+int(float64(b.Dx())*s.CropLeft),
		b.Min.Y+int(float64(b.Dy())*s.CropTop),
		b.Max.X-int(float64(b.Dx())*s.CropRight),
		b.Max.Y-int(float64(b.Dy())*s.CropBottom),
	)
	if rect.Empty() {
		rect = b
	}
	gray := imaging.Grayscale(imaging.Crop(img, rect))
	return binarize(gray, s.Threshold, s.Invert)
}

func (s *ThresholdStrategy) TesseractConfig() TesseractConfig {
	return TesseractConfig{PageSegMode: s.PageSegMode, Whitelist: s.Whitelist}
}

func (s *ThresholdStrategy) Postprocess(text string) string {
	text = strings.TrimSpace(text)
	if s.Whitelist == "" {
		return text
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == ' ' || strings.ContainsRune(s.Whitelist, r) {
			return r
		}
		return -1
	}, text)
}

func meanBrightness(img *image.NRGBA) int {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	var sum int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += int(img.NRGBAAt(x, y).R)
		}
	}
	return sum / (b.Dx() * b.Dy())
}

// binarize maps pixels above threshold to white and the rest to black, or the
// opposite when invert is set. img must already be greyscale.
func binarize(img *image.NRGBA, threshold uint8, invert bool) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			bright := img.NRGBAAt(x, y).R > threshold
			if bright != invert {
				out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: 255})
			}
		}
	}
	return out
}
