package digit

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// templateScale softens the distance-to-probability mapping.
const templateScale = 32.0

// TemplateBackend classifies digits by nearest reference glyph.
type TemplateBackend struct {
	width     int
	height    int
	templates [NumClasses][]float32
}

// NewTemplateBackend preprocesses one reference glyph per digit.
func NewTemplateBackend(width, height int, glyphs [NumClasses]image.Image) (*TemplateBackend, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid template size %dx%d", width, height)
	}
	t := &TemplateBackend{width: width, height: height}
	for d, g := range glyphs {
		if g == nil || g.Bounds().Empty() {
			return nil, fmt.Errorf("missing template for digit %d", d)
		}
		t.templates[d] = Preprocess(g, width, height)
	}
	return t, nil
}

// LoadTemplateDir reads 0.png through 9.png from dir.
func LoadTemplateDir(dir string, width, height int) (*TemplateBackend, error) {
	var glyphs [NumClasses]image.Image
	for d := 0; d < NumClasses; d++ {
		path := filepath.Join(dir, strconv.Itoa(d)+".png")
		img, err := readPNG(path)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", path, err)
		}
		glyphs[d] = img
	}
	return NewTemplateBackend(width, height, glyphs)
}

// WriteTemplateDir writes glyphs as 0.png through 9.png into dir.
func WriteTemplateDir(dir string, glyphs [NumClasses]image.Image) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create template dir: %w", err)
	}
	for d, g := range glyphs {
		path := filepath.Join(dir, strconv.Itoa(d)+".png")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := png.Encode(f, g); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return png.Decode(f)
}

// RenderGlyphs draws each digit in white on a black cellWidth x cellHeight
// canvas, with the pen starting at dot.
func RenderGlyphs(face font.Face, cellWidth, cellHeight int, dot fixed.Point26_6) [NumClasses]image.Image {
	var glyphs [NumClasses]image.Image
	for d := 0; d < NumClasses; d++ {
		canvas := image.NewGray(image.Rect(0, 0, cellWidth, cellHeight))
		draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)
		drawer := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  dot,
		}
		drawer.DrawString(strconv.Itoa(d))
		glyphs[d] = canvas
	}
	return glyphs
}

// BuiltinGlyphs renders the digits of the 7x13 fixed bitmap font.
func BuiltinGlyphs() [NumClasses]image.Image {
	return RenderGlyphs(basicfont.Face7x13, 10, 20, fixed.P(1, 15))
}

// InputSize implements Backend.
func (t *TemplateBackend) InputSize() (int, int) {
	return t.width, t.height
}

// Infer implements Backend. Scores are a softmax over negative mean absolute
// pixel distance to each template.
func (t *TemplateBackend) Infer(ctx context.Context, batch Batch) ([][]float32, error) {
	if batch.Width != t.width || batch.Height != t.height {
		return nil, fmt.Errorf("batch size %dx%d, templates are %dx%d", batch.Width, batch.Height, t.width, t.height)
	}
	out := make([][]float32, batch.N)
	for i := 0; i < batch.N; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plane := batch.Plane(i)
		var logits [NumClasses]float64
		for d, tmpl := range t.templates {
			logits[d] = -meanAbsDiff(plane, tmpl) / templateScale
		}
		out[i] = softmax(logits[:])
	}
	return out, nil
}

func meanAbsDiff(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i] - b[i]))
	}
	return sum / float64(len(a))
}

func softmax(logits []float64) []float32 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(v - maxLogit)
		sum += exps[i]
	}
	out := make([]float32, len(logits))
	for i, v := range exps {
		out[i] = float32(v / sum)
	}
	return out
}
