// Package vision holds the image plumbing around template matching: decoding
// screenshots, rescaling templates authored at a reference resolution,
// sampling pixels and detecting screen changes.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/vitali-fedulov/images/v2"
)

var (
	// ErrNotFound is returned by a Locator when the template is not on screen
	// with the required confidence.
	ErrNotFound = errors.New("template not found")

	ErrOutOfBounds = errors.New("point outside image bounds")
	ErrEmptyImage  = errors.New("empty image")
)

// Locator finds needle inside haystack and returns its bounding box in
// haystack coordinates. search, when non-empty, restricts the search area.
type Locator interface {
	Locate(haystack, needle image.Image, confidence float64, search image.Rectangle) (image.Rectangle, error)
}

// Decode reads a PNG or JPEG screenshot.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return img, nil
}

// Encode writes img as PNG.
func Encode(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Center is the integer midpoint of box.
func Center(box image.Rectangle) image.Point {
	return image.Point{
		X: box.Min.X + box.Dx()/2,
		Y: box.Min.Y + box.Dy()/2,
	}
}

// ScaleSize scales a length on each axis from the reference resolution to the
// actual one, rounding down and never below 1.
func ScaleSize(size, reference, actual image.Point) image.Point {
	return image.Point{
		X: scale(size.X, reference.X, actual.X),
		Y: scale(size.Y, reference.Y, actual.Y),
	}
}

func scale(v, reference, actual int) int {
	if reference <= 0 {
		return v
	}
	s := v * actual / reference
	if s < 1 {
		s = 1
	}
	return s
}

// ScaleTemplate resizes a template captured at reference so it matches a
// haystack of the actual size. Width and height are scaled independently.
func ScaleTemplate(template image.Image, reference, actual image.Point) image.Image {
	size := template.Bounds().Size()
	target := ScaleSize(size, reference, actual)
	if target == size {
		return template
	}
	return imaging.Resize(template, target.X, target.Y, imaging.Lanczos)
}

// ScaleRegion maps a reference-space rectangle into the actual haystack and
// clamps it to the haystack bounds.
func ScaleRegion(r image.Rectangle, reference image.Point, bounds image.Rectangle) image.Rectangle {
	actual := bounds.Size()
	scaled := image.Rect(
		r.Min.X*actual.X/reference.X,
		r.Min.Y*actual.Y/reference.Y,
		r.Max.X*actual.X/reference.X,
		r.Max.Y*actual.Y/reference.Y,
	).Add(bounds.Min)
	return scaled.Intersect(bounds)
}

// Crop returns the part of img inside r, re-based at the origin.
func Crop(img image.Image, r image.Rectangle) image.Image {
	return imaging.Crop(img, r)
}

// SearchOffset is where Crop(img, search) starts, relative to the origin of
// an image with the given bounds.
func SearchOffset(bounds, search image.Rectangle) image.Point {
	return search.Intersect(bounds).Min.Sub(bounds.Min)
}

// PixelAt samples the 8-bit RGB value at (x, y), relative to the image origin.
func PixelAt(img image.Image, x, y int) (color.RGBA, error) {
	b := img.Bounds()
	p := image.Point{X: b.Min.X + x, Y: b.Min.Y + y}
	if !p.In(b) {
		return color.RGBA{}, fmt.Errorf("%w: (%d, %d) in %v", ErrOutOfBounds, x, y, b)
	}
	c := color.NRGBAModel.Convert(img.At(p.X, p.Y)).(color.NRGBA)
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}, nil
}

// Similar reports whether two screenshots look the same.
func Similar(a, b image.Image) bool {
	hashA, sizeA := images.Hash(a)
	hashB, sizeB := images.Hash(b)
	return images.Similar(hashA, hashB, sizeA, sizeB)
}
