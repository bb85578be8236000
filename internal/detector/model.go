package detector

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/pagefuse/internal/mempool"
	"github.com/MeKo-Tech/pagefuse/internal/onnx"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
	"github.com/yalue/onnxruntime_go"
)

// Model runs the YOLOX page-elements network through ONNX Runtime and
// returns its raw [batch, candidates, 5+classes] output.
type Model struct {
	config     Config
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	mu         sync.RWMutex
}

// NewModel loads the model and creates an inference session.
func NewModel(config Config) (*Model, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := validateModelFile(config.ModelPath); err != nil {
		return nil, err
	}

	slog.Debug("Initializing page-elements model",
		"model_path", config.ModelPath,
		"gpu_enabled", config.GPU.UseGPU,
		"target", fmt.Sprintf("%dx%d", config.TargetWidth, config.TargetHeight))

	if err := onnx.Initialize(config.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := validateModelInfo(config.ModelPath)
	if err != nil {
		return nil, err
	}

	session, err := createSession(config, inputInfo, outputInfo)
	if err != nil {
		return nil, err
	}

	slog.Debug("Page-elements model initialized successfully")
	return &Model{config: config, session: session, inputInfo: inputInfo, outputInfo: outputInfo}, nil
}

// Close releases the inference session.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			slog.Warn("Failed to destroy model session", "error", err)
		}
		m.session = nil
	}
	return nil
}

// Config returns a copy of the model configuration.
func (m *Model) Config() Config {
	return m.config
}

// Preprocess letterboxes images into one NCHW batch tensor and records the
// original shape of every image.
func (m *Model) Preprocess(images []image.Image) (onnx.Tensor, []ImageShape, error) {
	if len(images) == 0 {
		return onnx.Tensor{}, nil, errors.New("no images")
	}

	tw, th := m.config.TargetWidth, m.config.TargetHeight
	shapes := make([]ImageShape, len(images))
	planes := make([][]float32, len(images))
	defer func() {
		for _, p := range planes {
			mempool.PutFloat32(p)
		}
	}()

	for i, img := range images {
		if img == nil {
			return onnx.Tensor{}, nil, fmt.Errorf("image %d is nil", i)
		}
		b := img.Bounds()
		shapes[i] = ImageShape{Height: b.Dy(), Width: b.Dx()}

		boxed, err := utils.Letterbox(img, tw, th)
		if err != nil {
			return onnx.Tensor{}, nil, fmt.Errorf("image %d: %w", i, err)
		}
		data, _, _, err := utils.ImageToCHWPooled(boxed)
		if err != nil {
			return onnx.Tensor{}, nil, fmt.Errorf("image %d: %w", i, err)
		}
		planes[i] = data
	}

	tensor, err := onnx.NewBatchImageTensor(planes, 3, th, tw)
	if err != nil {
		return onnx.Tensor{}, nil, err
	}
	return tensor, shapes, nil
}

// Infer runs one batch through the network.
func (m *Model) Infer(images []image.Image) (onnx.Tensor, []ImageShape, error) {
	input, shapes, err := m.Preprocess(images)
	if err != nil {
		return onnx.Tensor{}, nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	output, err := m.run(input)
	if err != nil {
		return onnx.Tensor{}, nil, err
	}
	return output, shapes, nil
}

func (m *Model) run(input onnx.Tensor) (onnx.Tensor, error) {
	if err := input.Validate(4); err != nil {
		return onnx.Tensor{}, fmt.Errorf("invalid tensor: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return onnx.Tensor{}, errors.New("model session is closed")
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return onnx.Tensor{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying input tensor: %v\n", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := m.session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return onnx.Tensor{}, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying output tensor: %v\n", err)
		}
	}()

	floatTensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return onnx.Tensor{}, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}

	shape := floatTensor.GetShape()
	if len(shape) != 3 {
		return onnx.Tensor{}, fmt.Errorf("expected 3D output tensor, got %dD", len(shape))
	}

	data := make([]float32, len(floatTensor.GetData()))
	copy(data, floatTensor.GetData())
	return onnx.Tensor{Data: data, Shape: append([]int64(nil), shape...)}, nil
}

// Warmup runs forward passes on a blank page to reduce first-run latency.
func (m *Model) Warmup(iterations int) error {
	img := image.NewRGBA(image.Rect(0, 0, m.config.TargetWidth, m.config.TargetHeight))
	for range iterations {
		if _, _, err := m.Infer([]image.Image{img}); err != nil {
			return fmt.Errorf("warmup failed: %w", err)
		}
	}
	return nil
}
