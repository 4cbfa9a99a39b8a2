// Package tesseract is the gosseract-backed OCR engine.
package tesseract

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"gitlab.com/web-doodle/emubot/pkg/ocr"
	"gitlab.com/web-doodle/emubot/pkg/vision"
)

// Engine reuses one tesseract client; calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

func New(languages ...string) (*Engine, error) {
	client := gosseract.NewClient()
	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting tesseract language: %w", err)
		}
	}
	return &Engine{client: client}, nil
}

func (e *Engine) ExtractText(_ context.Context, img image.Image, cfg ocr.TesseractConfig) (string, error) {
	data, err := vision.Encode(img)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cfg.PageSegMode != 0 {
		if err := e.client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
			return "", err
		}
	}
	// An empty whitelist clears the previous call's.
	if err := e.client.SetWhitelist(cfg.Whitelist); err != nil {
		return "", err
	}
	for name, value := range cfg.Variables {
		if err := e.client.SetVariable(gosseract.SettableVariable(name), value); err != nil {
			return "", fmt.Errorf("setting tesseract variable %s: %w", name, err)
		}
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("loading image into tesseract: %w", err)
	}
	return e.client.Text()
}

func (e *Engine) Close() error {
	return e.client.Close()
}
