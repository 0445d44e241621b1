package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/Brownie44l1/digit-bridge/internal/config"
	"github.com/Brownie44l1/digit-bridge/internal/imaging"
	"github.com/Brownie44l1/digit-bridge/internal/logging"
	"github.com/Brownie44l1/digit-bridge/internal/model"
)

const help = `Enter 784 numbers separated by commas or spaces, or @path/to/image.png.
  :scores  toggle printing the score vector
  :help    show this text
  :quit    exit`

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "", "path to YAML config")
	modelPath := flag.String("model", "", "path to the ONNX model asset")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(config.Overrides{ModelPath: *modelPath, LogLevel: *logLevel})

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

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
	imageOpts := imaging.Options{
		Normalization: imaging.Normalization(cfg.Image.Normalization),
		Invert:        cfg.Image.Invert,
	}

	rl, err := readline.New("digit> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	fmt.Println(help)
	showScores := false
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit":
			return nil
		case line == ":scores":
			showScores = !showScores
			fmt.Printf("scores %s\n", onOff(showScores))
			continue
		case line == ":help":
			fmt.Println(help)
			continue
		}

		pixels, err := readInput(line, imageOpts)
		if err != nil {
			fmt.Println(err)
			continue
		}
		scores, err := bridge.ScoresFloat32(pixels)
		if err != nil {
			fmt.Printf("%s: %v\n", model.KindOf(err).Code(), err)
			continue
		}
		fmt.Println(model.ArgMax(scores))
		if showScores {
			fmt.Println(scores)
		}
	}
}

func readInput(line string, opts imaging.Options) ([]float32, error) {
	if path, ok := strings.CutPrefix(line, "@"); ok {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		pixels, _, err := imaging.Decode(f, opts)
		return pixels, err
	}
	return parseNumbers(line)
}

// parseNumbers accepts any mix of commas and whitespace between values.
func parseNumbers(line string) ([]float32, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '[' || r == ']'
	})
	raw := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		raw = append(raw, v)
	}
	return model.Narrow(raw), nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
