package model

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// SessionOptions tunes how the graph is bound. Empty names select the graph's
// first declared input and output.
type SessionOptions struct {
	InputName      string
	OutputName     string
	IntraOpThreads int
	Logger         *zap.Logger
}

// Session owns one ONNX Runtime session over the digit network together with the
// tensors bound to it. It is created once and shared by every prediction.
type Session struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputName    string
	outputName   string
	logger       *zap.Logger
	closed       bool
}

// InitEnvironment loads the ONNX Runtime shared library and initializes the
// process-wide environment. It is a no-op when the environment is already up.
func InitEnvironment(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return modelLoad("failed to initialize ONNX environment", err)
	}
	return nil
}

func DestroyEnvironment() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// LoadSession reads the model asset fully into memory and builds a Session from it.
func LoadSession(path string, opts SessionOptions) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, modelLoad(fmt.Sprintf("failed to read model %s", path), err)
	}
	return NewSession(data, opts)
}

// NewSession parses a serialized graph and binds a [1,1,28,28] input and a [1,10]
// output to it. On failure nothing is left allocated.
func NewSession(modelBytes []byte, opts SessionOptions) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(modelBytes) == 0 {
		return nil, modelLoad("model data is empty", nil)
	}
	if !ort.IsInitialized() {
		return nil, modelLoad("ONNX environment is not initialized", nil)
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(modelBytes)
	if err != nil {
		return nil, modelLoad("failed to parse model graph", err)
	}
	inputInfo, err := resolveName(opts.InputName, inputs, "input")
	if err != nil {
		return nil, err
	}
	if err := checkDims(inputInfo, InputShape, "input"); err != nil {
		return nil, err
	}
	outputInfo, err := resolveName(opts.OutputName, outputs, "output")
	if err != nil {
		return nil, err
	}
	if err := checkDims(outputInfo, OutputShape, "output"); err != nil {
		return nil, err
	}
	inputName, outputName := inputInfo.Name, outputInfo.Name

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(InputShape...))
	if err != nil {
		return nil, modelLoad("failed to create input tensor", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, modelLoad("failed to create output tensor", err)
	}

	var sessionOptions *ort.SessionOptions
	if opts.IntraOpThreads > 0 {
		sessionOptions, err = ort.NewSessionOptions()
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, modelLoad("failed to create session options", err)
		}
		defer sessionOptions.Destroy()
		if err := sessionOptions.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, modelLoad("failed to set intra-op threads", err)
		}
	}

	session, err := ort.NewAdvancedSessionWithONNXData(modelBytes,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		sessionOptions)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, modelLoad("failed to create ONNX session", err)
	}

	logger.Info("model session ready",
		zap.String("input", inputName),
		zap.String("output", outputName),
		zap.Int("model_bytes", len(modelBytes)))

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputName:    inputName,
		outputName:   outputName,
		logger:       logger,
	}, nil
}

func resolveName(want string, infos []ort.InputOutputInfo, role string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, modelLoad(fmt.Sprintf("model declares no %s", role), nil)
	}
	if want == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == want {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, modelLoad(fmt.Sprintf("model has no %s named %q", role, want), nil)
}

// checkDims rejects a node whose declared shape cannot hold want. Negative
// dimensions are dynamic axes and match anything.
func checkDims(info ort.InputOutputInfo, want []int64, role string) error {
	got := info.Dimensions
	mismatch := len(got) != len(want)
	for i := 0; !mismatch && i < len(want); i++ {
		if got[i] >= 0 && got[i] != want[i] {
			mismatch = true
		}
	}
	if mismatch {
		return modelLoad(fmt.Sprintf("model %s %q has shape %v, want %v", role, info.Name, []int64(got), want), nil)
	}
	return nil
}

// Run executes one forward pass and returns a copy of the class scores.
func (s *Session) Run(input []float32) ([]float32, error) {
	if len(input) != PixelCount {
		return nil, inference(fmt.Sprintf("input tensor needs %d values, got %d", PixelCount, len(input)), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, inference("session is closed", nil)
	}

	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		s.logger.Warn("inference failed", zap.Error(err))
		return nil, inference("inference failed", err)
	}

	out := s.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (s *Session) InputName() string  { return s.inputName }
func (s *Session) OutputName() string { return s.outputName }

// Close releases the session and its tensors. Calling it twice is safe.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	if s.inputTensor != nil {
		errs = append(errs, s.inputTensor.Destroy())
	}
	if s.outputTensor != nil {
		errs = append(errs, s.outputTensor.Destroy())
	}
	return errors.Join(errs...)
}
