package app

import (
	"sort"
	"strings"

	"gitlab.com/web-doodle/emubot/pkg/element"
)

// Screen groups the elements of one app screen by label.
type Screen struct {
	name     string
	elements map[string]*element.Element
}

func NewScreen(name string, elems ...*element.Element) *Screen {
	s := &Screen{name: name, elements: make(map[string]*element.Element, len(elems))}
	for _, e := range elems {
		s.AddElement(e)
	}
	return s
}

func (s *Screen) Name() string {
	return s.name
}

// AddElement registers e under its label, replacing any element with the
// same label.
func (s *Screen) AddElement(e *element.Element) {
	s.elements[e.Label()] = e
}

func (s *Screen) Element(label string) (*element.Element, bool) {
	e, ok := s.elements[strings.ToLower(strings.TrimSpace(label))]
	return e, ok
}

// Elements returns the screen's elements ordered by label.
func (s *Screen) Elements() []*element.Element {
	out := make([]*element.Element, 0, len(s.elements))
	for _, e := range s.elements {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out
}
