package model

const (
	ImageSize  = 28
	PixelCount = ImageSize * ImageSize
	NumClasses = 10
)

// InputShape is the rank-4 tensor the network consumes: batch, channel, height, width.
var InputShape = []int64{1, 1, ImageSize, ImageSize}

// OutputShape is one row of class scores.
var OutputShape = []int64{1, NumClasses}

type PredictionRequest struct {
	Input []float64 `json:"input"`
}

type PredictionResponse struct {
	Digit int `json:"digit"`
}

type ScoresResponse struct {
	Digit  int       `json:"digit"`
	Scores []float32 `json:"scores"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
