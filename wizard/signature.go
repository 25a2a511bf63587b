package wizard

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Stroke []Point

// SignaturePad accumulates strokes until the merchant explicitly saves.
// Drawing alone is not enough: validation only accepts a saved signature,
// and Clear wipes strokes, payload and the saved flag together.
type SignaturePad struct {
	strokes []Stroke
	payload string
	saved   bool
	encode  func([]Stroke) (string, error)
}

func NewSignaturePad() *SignaturePad {
	return &SignaturePad{encode: encodeStrokes}
}

// SetEncoder swaps the stroke encoder (tests, alternative image formats).
func (s *SignaturePad) SetEncoder(fn func([]Stroke) (string, error)) {
	if fn != nil {
		s.encode = fn
	}
}

func (s *SignaturePad) AddStroke(stroke Stroke) {
	if len(stroke) == 0 {
		return
	}
	cp := make(Stroke, len(stroke))
	copy(cp, stroke)
	s.strokes = append(s.strokes, cp)
}

func (s *SignaturePad) Clear() {
	s.strokes = nil
	s.payload = ""
	s.saved = false
}

func (s *SignaturePad) Save() error {
	if len(s.strokes) == 0 {
		return errors.New("nothing drawn")
	}
	payload, err := s.encode(s.strokes)
	if err != nil {
		return err
	}
	s.payload = payload
	s.saved = true
	return nil
}

func (s *SignaturePad) Saved() bool    { return s.saved }
func (s *SignaturePad) Empty() bool    { return len(s.strokes) == 0 }
func (s *SignaturePad) Payload() string {
	if !s.saved {
		return ""
	}
	return s.payload
}

func encodeStrokes(strokes []Stroke) (string, error) {
	b, err := json.Marshal(strokes)
	if err != nil {
		return "", err
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(b), nil
}
