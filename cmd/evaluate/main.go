package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/digit-bridge/internal/config"
	"github.com/Brownie44l1/digit-bridge/internal/logging"
	"github.com/Brownie44l1/digit-bridge/internal/mnist"
	"github.com/Brownie44l1/digit-bridge/internal/model"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	modelPath := flag.String("model", "", "path to the ONNX model asset")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	images := flag.String("images", "t10k-images-idx3-ubyte.gz", "IDX image file")
	labels := flag.String("labels", "t10k-labels-idx1-ubyte.gz", "IDX label file")
	limit := flag.Int("limit", 0, "evaluate at most this many samples (0 = all)")
	scale := flag.Float64("scale", 1, "multiply raw 0-255 pixels by this before predicting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.ApplyOverrides(config.Overrides{ModelPath: *modelPath, LogLevel: *logLevel})

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = run(cfg, logger, *images, *labels, *limit, *scale)
	os.Exit(logging.ExitCode(logger, "evaluation failed", err))
}

func run(cfg *config.Config, logger *zap.Logger, images, labels string, limit int, scale float64) error {
	samples, err := mnist.Load(images, labels)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if limit > 0 && limit < len(samples) {
		samples = samples[:limit]
	}

	if err := model.InitEnvironment(cfg.Model.LibraryPath); err != nil {
		return err
	}
	defer model.DestroyEnvironment()

	session, err := model.LoadSession(cfg.Model.Path, model.SessionOptions{
		InputName:  cfg.Model.InputName,
		OutputName: cfg.Model.OutputName,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	bridge := model.NewBridge(session, logger)

	start := time.Now()
	report, err := evaluate(bridge, samples, scale)
	if err != nil {
		return err
	}

	fmt.Print(report.String())
	logger.Info("evaluation finished",
		zap.Int("samples", report.Total),
		zap.Float64("accuracy", report.Accuracy()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

type Report struct {
	Total     int
	Correct   int
	Confusion [model.NumClasses][model.NumClasses]int
}

func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "accuracy: %.2f%% (%d/%d)\n\n", 100*r.Accuracy(), r.Correct, r.Total)
	b.WriteString("true\\pred")
	for p := 0; p < model.NumClasses; p++ {
		fmt.Fprintf(&b, "%6d", p)
	}
	b.WriteByte('\n')
	for t := 0; t < model.NumClasses; t++ {
		fmt.Fprintf(&b, "%9d", t)
		for p := 0; p < model.NumClasses; p++ {
			fmt.Fprintf(&b, "%6d", r.Confusion[t][p])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

type predictor interface {
	Predict(raw []float64) (int, error)
}

// evaluate runs samples one at a time; a single failed prediction aborts the run.
func evaluate(p predictor, samples []mnist.Sample, scale float64) (*Report, error) {
	report := &Report{}
	for i := range samples {
		raw := samples[i].Float64s()
		if scale != 1 {
			for j := range raw {
				raw[j] *= scale
			}
		}
		digit, err := p.Predict(raw)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		label := int(samples[i].Label)
		report.Total++
		report.Confusion[label][digit]++
		if digit == label {
			report.Correct++
		}
	}
	return report, nil
}
