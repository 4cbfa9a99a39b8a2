package vision

import (
	"fmt"
	"image"
	"sync"

	"github.com/vcaesar/imgo"
)

// TemplateCache loads template assets once and keeps them in memory.
type TemplateCache struct {
	mu     sync.Mutex
	load   func(path string) (image.Image, error)
	images map[string]image.Image
}

func NewTemplateCache() *TemplateCache {
	return NewTemplateCacheWithLoader(decodeFile)
}

func NewTemplateCacheWithLoader(load func(path string) (image.Image, error)) *TemplateCache {
	return &TemplateCache{
		load:   load,
		images: make(map[string]image.Image),
	}
}

func decodeFile(path string) (image.Image, error) {
	img, _, err := imgo.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (c *TemplateCache) Get(path string) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.images[path]; ok {
		return img, nil
	}
	img, err := c.load(path)
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", path, err)
	}
	c.images[path] = img
	return img, nil
}

func (c *TemplateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}
