package cv

import (
	"image"
	"strings"

	"gocv.io/x/gocv"

	"gitlab.com/web-doodle/emubot/pkg/ocr"
)

// IntensifyStrategy isolates bright outlined text, such as white labels over
// busy game art, before OCR.
type IntensifyStrategy struct {
	Threshold float32
}

func NewIntensifyStrategy() *IntensifyStrategy {
	return &IntensifyStrategy{Threshold: 245}
}

func (s *IntensifyStrategy) Preprocess(img image.Image) image.Image {
	out, err := Intensify(img, s.Threshold)
	if err != nil {
		return img
	}
	return out
}

func (s *IntensifyStrategy) TesseractConfig() ocr.TesseractConfig {
	return ocr.TesseractConfig{PageSegMode: ocr.PSMSingleBlock}
}

func (s *IntensifyStrategy) Postprocess(text string) string {
	return strings.TrimSpace(text)
}

// https://dsp.stackexchange.com/questions/59150/outlined-text-extraction-from-image-using-opencv
func Intensify(img image.Image, threshold float32) (image.Image, error) {
	iMat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return img, err
	}
	defer iMat.Close()
	gocv.CvtColor(iMat, &iMat, gocv.ColorRGBToGray)
	gocv.Threshold(iMat, &iMat, threshold, 255, gocv.ThresholdBinary)
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	gocv.MorphologyEx(iMat, &iMat, gocv.MorphClose, kernel)
	gocv.BitwiseNot(iMat, &iMat)
	return iMat.ToImage()
}
