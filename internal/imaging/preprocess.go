// Package imaging turns uploaded pictures into the 28x28 grayscale buffers the
// digit network consumes.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/digit-bridge/internal/model"
)

type Normalization string

const (
	NormalizeNone  Normalization = "none"
	NormalizeUnit  Normalization = "unit"
	NormalizeMNIST Normalization = "mnist"
)

// Mean and standard deviation of the MNIST training set, as used when the network was trained.
const (
	mnistMean = 0.1307
	mnistStd  = 0.3081
)

type Options struct {
	Normalization Normalization
	// Invert flips intensities so dark strokes on a light background become
	// light strokes on black, which is how MNIST digits look.
	Invert bool
}

// Decode reads a PNG or JPEG and preprocesses it.
func Decode(r io.Reader, opts Options) ([]float32, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	pixels, err := Preprocess(img, opts)
	if err != nil {
		return nil, format, err
	}
	return pixels, format, nil
}

// Preprocess converts img to grayscale, resizes it to 28x28 and returns the
// row-major intensities scaled according to opts.
func Preprocess(img image.Image, opts Options) ([]float32, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}

	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	resized := resize.Resize(model.ImageSize, model.ImageSize, gray, resize.Lanczos3)
	rb := resized.Bounds()

	pixels := make([]float32, 0, model.PixelCount)
	for y := rb.Min.Y; y < rb.Max.Y; y++ {
		for x := rb.Min.X; x < rb.Max.X; x++ {
			v := float32(color.GrayModel.Convert(resized.At(x, y)).(color.Gray).Y)
			if opts.Invert {
				v = 255 - v
			}
			pixels = append(pixels, scale(v, opts.Normalization))
		}
	}

	if len(pixels) != model.PixelCount {
		return nil, fmt.Errorf("resized image has %d pixels, want %d", len(pixels), model.PixelCount)
	}
	return pixels, nil
}

func scale(v float32, n Normalization) float32 {
	switch n {
	case NormalizeUnit:
		return v / 255
	case NormalizeMNIST:
		return (v/255 - mnistMean) / mnistStd
	default:
		return v
	}
}
