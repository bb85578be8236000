package detector

import (
	"errors"
	"fmt"
	"os"

	"github.com/MeKo-Tech/pagefuse/internal/models"
	"github.com/MeKo-Tech/pagefuse/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// Config holds configuration for the local YOLOX page-elements model.
type Config struct {
	ModelPath    string         // Path to the ONNX model
	NumThreads   int            // Number of CPU threads (default: 0 for auto)
	TargetWidth  int            // Letterbox width (default: 1024)
	TargetHeight int            // Letterbox height (default: 1024)
	GPU          onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a default model configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:    models.GetPageElementsModelPath(""),
		NumThreads:   0,
		TargetWidth:  1024,
		TargetHeight: 1024,
		GPU:          onnx.DefaultGPUConfig(),
	}
}

func validateConfig(config Config) error {
	if config.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if config.TargetWidth <= 0 || config.TargetHeight <= 0 {
		return fmt.Errorf("invalid target size %dx%d", config.TargetWidth, config.TargetHeight)
	}
	return config.GPU.Validate()
}

func validateModelFile(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// validateModelInfo checks for one NCHW input and one output.
func validateModelInfo(modelPath string) (onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error) {
	var none onnxruntime_go.InputOutputInfo
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return none, none, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return none, none, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) != 1 {
		return none, none, fmt.Errorf("expected 1 output, got %d", len(outputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return none, none, fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	return inputs[0], outputs[0], nil
}

// createSession creates the ONNX session with the given configuration.
func createSession(config Config, inputInfo, outputInfo onnxruntime_go.InputOutputInfo,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to destroy session options: %v\n", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(sessionOptions, config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}

	if config.NumThreads > 0 {
		if err = sessionOptions.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputInfo.Name}, []string{outputInfo.Name}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}
