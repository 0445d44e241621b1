package model

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Engine runs one forward pass over a 784-value input and returns the class scores.
// *Session implements it.
type Engine interface {
	Run(input []float32) ([]float32, error)
}

// Bridge validates caller input, hands it to the engine and turns the scores into a digit.
type Bridge struct {
	engine Engine
	logger *zap.Logger
}

func NewBridge(engine Engine, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		engine: engine,
		logger: logger,
	}
}

// Predict returns the arg-max class for a row-major 28x28 buffer. Values are
// narrowed to float32 as-is; no clamping or normalization happens here.
func (b *Bridge) Predict(raw []float64) (int, error) {
	scores, err := b.Scores(raw)
	if err != nil {
		return 0, err
	}
	return ArgMax(scores), nil
}

// PredictFloat32 is Predict for callers that already hold single-precision pixels.
func (b *Bridge) PredictFloat32(pixels []float32) (int, error) {
	scores, err := b.ScoresFloat32(pixels)
	if err != nil {
		return 0, err
	}
	return ArgMax(scores), nil
}

// Scores validates raw and returns the engine's full score vector.
func (b *Bridge) Scores(raw []float64) ([]float32, error) {
	if len(raw) != PixelCount {
		return nil, invalidInput("Input must be %dx%d, got %d values", ImageSize, ImageSize, len(raw))
	}
	return b.run(Narrow(raw))
}

func (b *Bridge) ScoresFloat32(pixels []float32) ([]float32, error) {
	if len(pixels) != PixelCount {
		return nil, invalidInput("Input must be %dx%d, got %d values", ImageSize, ImageSize, len(pixels))
	}
	return b.run(pixels)
}

func (b *Bridge) run(input []float32) ([]float32, error) {
	scores, err := b.engine.Run(input)
	if err != nil {
		if KindOf(err) == 0 {
			err = inference("inference failed", err)
		}
		b.logger.Error("prediction failed", zap.Error(err))
		return nil, err
	}
	if len(scores) != NumClasses {
		return nil, inference(fmt.Sprintf("engine returned %d scores, want %d", len(scores), NumClasses), nil)
	}
	for i, v := range scores {
		if math.IsNaN(float64(v)) {
			return nil, inference(fmt.Sprintf("engine returned NaN score for class %d", i), nil)
		}
	}
	b.logger.Debug("prediction", zap.Float32s("scores", scores))
	return scores, nil
}

// Narrow converts each value to float32 with Go's standard conversion.
func Narrow(raw []float64) []float32 {
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out
}

// ArgMax returns the index of the largest score. Ties go to the lowest index.
// It returns -1 for an empty slice. Comparisons against NaN are false, so the
// result is meaningless for vectors holding NaN; Bridge rejects those first.
func ArgMax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx
}
