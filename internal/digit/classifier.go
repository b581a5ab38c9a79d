// Package digit classifies single decimal digit crops.
package digit

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// NumClasses is the number of digit classes.
const NumClasses = 10

// Batch is an N x 1 x Height x Width float32 tensor in row-major order.
type Batch struct {
	N      int
	Width  int
	Height int
	Data   []float32
}

// Plane returns the i-th image of the batch.
func (b Batch) Plane(i int) []float32 {
	size := b.Width * b.Height
	return b.Data[i*size : (i+1)*size]
}

// Backend maps preprocessed digit images to class scores.
type Backend interface {
	// InputSize reports the fixed image size the backend expects.
	InputSize() (width, height int)
	// Infer returns one score vector of length NumClasses per batch image.
	Infer(ctx context.Context, batch Batch) ([][]float32, error)
}

// ErrBadOutput reports a backend result that does not match the batch.
var ErrBadOutput = errors.New("unexpected backend output")

// Classifier turns digit crops into digit predictions.
type Classifier struct {
	backend Backend
}

// NewClassifier wraps a backend.
func NewClassifier(backend Backend) *Classifier {
	return &Classifier{backend: backend}
}

// Classify predicts one digit per crop with a single backend call.
func (c *Classifier) Classify(ctx context.Context, crops []image.Image) ([]int, error) {
	if len(crops) == 0 {
		return nil, nil
	}
	w, h := c.backend.InputSize()
	batch := Batch{
		N:      len(crops),
		Width:  w,
		Height: h,
		Data:   make([]float32, 0, len(crops)*w*h),
	}
	for _, crop := range crops {
		batch.Data = append(batch.Data, Preprocess(crop, w, h)...)
	}

	scores, err := c.backend.Infer(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}
	if len(scores) != len(crops) {
		return nil, fmt.Errorf("%w: %d rows for %d crops", ErrBadOutput, len(scores), len(crops))
	}
	digits := make([]int, len(scores))
	for i, row := range scores {
		if len(row) != NumClasses {
			return nil, fmt.Errorf("%w: row %d has %d scores", ErrBadOutput, i, len(row))
		}
		digits[i] = ArgMax(row)
	}
	return digits, nil
}

// ArgMax returns the index of the largest value; ties keep the first index.
func ArgMax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
