// Package mnist reads the IDX files the MNIST digits are distributed in.
package mnist

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Brownie44l1/digit-bridge/internal/model"
)

const (
	imagesMagic = 2051
	labelsMagic = 2049
)

// Sample is one labelled digit with raw 0-255 intensities.
type Sample struct {
	Pixels [model.PixelCount]byte
	Label  byte
}

// Float64s returns the pixels in the form Bridge.Predict accepts.
func (s *Sample) Float64s() []float64 {
	out := make([]float64, model.PixelCount)
	for i, p := range s.Pixels {
		out[i] = float64(p)
	}
	return out
}

// Load reads an image file and its label file. Files ending in .gz are
// decompressed on the fly.
func Load(imagesPath, labelsPath string) ([]Sample, error) {
	imgData, err := readFile(imagesPath)
	if err != nil {
		return nil, err
	}
	lblData, err := readFile(labelsPath)
	if err != nil {
		return nil, err
	}

	images, err := ParseImages(imgData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagesPath, err)
	}
	labels, err := ParseLabels(lblData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", labelsPath, err)
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("%d images but %d labels", len(images), len(labels))
	}

	samples := make([]Sample, len(images))
	for i := range images {
		samples[i] = Sample{Pixels: images[i], Label: labels[i]}
	}
	return samples, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// ParseImages decodes an uncompressed IDX3 image file of 28x28 digits.
func ParseImages(data []byte) ([][model.PixelCount]byte, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("image header truncated")
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != imagesMagic {
		return nil, fmt.Errorf("bad image magic %d", magic)
	}
	count := int(binary.BigEndian.Uint32(data[4:8]))
	rows := int(binary.BigEndian.Uint32(data[8:12]))
	cols := int(binary.BigEndian.Uint32(data[12:16]))
	if rows != model.ImageSize || cols != model.ImageSize {
		return nil, fmt.Errorf("images are %dx%d, want %dx%d", rows, cols, model.ImageSize, model.ImageSize)
	}

	body := data[16:]
	if len(body) != count*model.PixelCount {
		return nil, fmt.Errorf("header says %d images, body holds %d bytes", count, len(body))
	}

	set := make([][model.PixelCount]byte, count)
	for i := range set {
		copy(set[i][:], body[i*model.PixelCount:])
	}
	return set, nil
}

// ParseLabels decodes an uncompressed IDX1 label file.
func ParseLabels(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("label header truncated")
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != labelsMagic {
		return nil, fmt.Errorf("bad label magic %d", magic)
	}
	count := int(binary.BigEndian.Uint32(data[4:8]))
	body := data[8:]
	if len(body) != count {
		return nil, fmt.Errorf("header says %d labels, body holds %d", count, len(body))
	}
	for i, l := range body {
		if int(l) >= model.NumClasses {
			return nil, fmt.Errorf("label %d out of range: %d", i, l)
		}
	}
	return body, nil
}
