// Package ocr extracts and checks on-screen text. Engines live in
// subpackages; this package holds preprocessing strategies and the checker
// the matcher uses for text elements.
package ocr

import (
	"context"
	"image"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/logging"
)

// Page segmentation modes understood by the tesseract engine.
const (
	PSMAuto        = 3
	PSMSingleBlock = 6
	PSMSingleLine  = 7
	PSMSingleWord  = 8
)

// TesseractConfig is what an engine applies before reading an image. Zero
// values leave the engine's setting alone; Variables are tesseract
// parameters set by name.
type TesseractConfig struct {
	PageSegMode int
	Whitelist   string
	Variables   map[string]string
}

// Strategy prepares an image for an engine and cleans up what it returns.
type Strategy interface {
	Preprocess(img image.Image) image.Image
	TesseractConfig() TesseractConfig
	Postprocess(text string) string
}

// Engine turns a (preprocessed) image into text.
type Engine interface {
	ExtractText(ctx context.Context, img image.Image, cfg TesseractConfig) (string, error)
}

type Checker struct {
	engine   Engine
	fallback Strategy
	logger   *zap.Logger
}

func NewChecker(engine Engine, fallback Strategy, logger *zap.Logger) *Checker {
	if fallback == nil {
		fallback = NewDefaultStrategy()
	}
	return &Checker{
		engine:   engine,
		fallback: fallback,
		logger:   logging.OrNop(logger).Named("ocr"),
	}
}

// ExtractText runs strategy (or the checker's fallback) and the engine over img.
func (c *Checker) ExtractText(ctx context.Context, img image.Image, strategy Strategy) (string, error) {
	if strategy == nil {
		strategy = c.fallback
	}
	text, err := c.engine.ExtractText(ctx, strategy.Preprocess(img), strategy.TesseractConfig())
	if err != nil {
		return "", err
	}
	text = strategy.Postprocess(text)
	c.logger.Debug("extracted text", zap.Int("length", len(text)))
	return text, nil
}

// ContainsText is a case-insensitive substring check.
func (c *Checker) ContainsText(ctx context.Context, text string, img image.Image, strategy Strategy) (bool, error) {
	extracted, err := c.ExtractText(ctx, img, strategy)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(extracted), strings.ToLower(text)), nil
}

// ReadLines returns the non-empty trimmed lines of the extracted text.
func (c *Checker) ReadLines(ctx context.Context, img image.Image, strategy Strategy) ([]string, error) {
	text, err := c.ExtractText(ctx, img, strategy)
	if err != nil {
		return nil, err
	}
	return splitLines(text), nil
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
