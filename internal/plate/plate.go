// Package plate crops the timestamp plate and its digit cells out of a frame.
package plate

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/verte-zerg/stampclock/internal/model"
)

// ErrEmptyRegion reports a crop that has no pixels.
var ErrEmptyRegion = errors.New("empty region")

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Locate returns the sub-image of frame covered by the relative box.
func Locate(frame image.Image, box model.Box) (image.Image, error) {
	b := frame.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	r := image.Rect(
		b.Min.X+round(w*box.Left),
		b.Min.Y+round(h*box.Top),
		b.Min.X+round(w*box.Right),
		b.Min.Y+round(h*box.Bottom),
	).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("plate %v in %dx%d frame: %w", box, b.Dx(), b.Dy(), ErrEmptyRegion)
	}
	return crop(frame, r), nil
}

// Segment splits plate into one full-height crop per relative position.
// Crop i starts at round(width*positions[i]) and ends at
// round(width*positions[i] + width*digitWidth).
func Segment(plate image.Image, positions []float64, digitWidth float64) ([]image.Image, error) {
	b := plate.Bounds()
	w := float64(b.Dx())
	cellWidth := w * digitWidth
	crops := make([]image.Image, 0, len(positions))
	for i, pos := range positions {
		start := w * pos
		r := image.Rect(b.Min.X+round(start), b.Min.Y, b.Min.X+round(start+cellWidth), b.Max.Y).Intersect(b)
		if r.Empty() {
			return nil, fmt.Errorf("digit %d at %.4f: %w", i, pos, ErrEmptyRegion)
		}
		crops = append(crops, crop(plate, r))
	}
	return crops, nil
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, r.Min, draw.Src)
	return dst
}

// round rounds half to even.
func round(v float64) int {
	return int(math.RoundToEven(v))
}
