// Package cv is the OpenCV-backed side of vision. It needs cgo and an
// OpenCV 4 install, so nothing outside the CLI wiring imports it.
package cv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"gitlab.com/web-doodle/emubot/pkg/vision"
)

// Locator runs normalized cross-correlation on grayscale copies of the
// haystack and template. Boxes are relative to the haystack's top-left
// corner, whatever its bounds.
type Locator struct{}

func NewLocator() *Locator {
	return &Locator{}
}

func (l *Locator) Locate(haystack, needle image.Image, confidence float64, search image.Rectangle) (image.Rectangle, error) {
	offset := image.Point{}
	if !search.Empty() {
		offset = vision.SearchOffset(haystack.Bounds(), search)
		haystack = vision.Crop(haystack, search)
	}

	hb, nb := haystack.Bounds(), needle.Bounds()
	if nb.Dx() > hb.Dx() || nb.Dy() > hb.Dy() {
		return image.Rectangle{}, vision.ErrNotFound
	}

	srcMat, err := grayMat(haystack)
	if err != nil {
		return image.Rectangle{}, err
	}
	defer srcMat.Close()

	tplMat, err := grayMat(needle)
	if err != nil {
		return image.Rectangle{}, err
	}
	defer tplMat.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(srcMat, tplMat, &result, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	if float64(maxVal) < confidence {
		return image.Rectangle{}, vision.ErrNotFound
	}

	topLeft := maxLoc.Add(offset)
	return image.Rectangle{Min: topLeft, Max: topLeft.Add(nb.Size())}, nil
}

func grayMat(img image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("converting image to mat: %w", err)
	}
	gocv.CvtColor(mat, &mat, gocv.ColorRGBToGray)
	return mat, nil
}
