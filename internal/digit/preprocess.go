package digit

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Grayscale converts img to 8-bit luma, rebased at the origin.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return gray
}

// OtsuThreshold returns the level that maximizes the between-class variance
// of the intensity histogram. Pixels above the level form the foreground.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	b := gray.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[gray.PixOffset(b.Min.X, y):gray.PixOffset(b.Max.X, y)]
		for _, v := range row {
			hist[v]++
		}
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i * n)
	}

	var (
		best     uint8
		bestVar  float64
		weightBg int
		sumBg    float64
	)
	for t := 0; t < 256; t++ {
		weightBg += hist[t]
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / float64(weightBg)
		meanFg := (sumAll - sumBg) / float64(weightFg)
		diff := meanBg - meanFg
		between := float64(weightBg) * float64(weightFg) * diff * diff
		if between > bestVar {
			bestVar = between
			best = uint8(t)
		}
	}
	return best
}

// Binarize maps pixels above threshold to 255 and the rest to 0, in place.
func Binarize(gray *image.Gray, threshold uint8) {
	for i, v := range gray.Pix {
		if v > threshold {
			gray.Pix[i] = 255
		} else {
			gray.Pix[i] = 0
		}
	}
}

// Preprocess normalizes a digit crop into a width x height single-channel
// plane of values in [0, 255], row-major.
func Preprocess(crop image.Image, width, height int) []float32 {
	gray := Grayscale(crop)
	Binarize(gray, OtsuThreshold(gray))

	resized := image.NewGray(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(resized, resized.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	out := make([]float32, width*height)
	for y := 0; y < height; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+width]
		for x, v := range row {
			out[y*width+x] = float32(v)
		}
	}
	return out
}
