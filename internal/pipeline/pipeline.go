package pipeline

import (
	"context"
	"fmt"
	"log"

	"veil/internal/imaging"
)

// InferenceEngine is the external model executor. OutputShape is consulted
// once at construction to fix the tensor layout; Infer runs one pass over a
// preprocessed square input tensor.
type InferenceEngine interface {
	OutputShape() ([]int, error)
	Infer(ctx context.Context, input []float32, size int) ([]float32, error)
}

// Pipeline composes preprocessing, inference, tensor decoding and
// suppression into one detection pass per frame.
//
// If the engine is missing or cannot report an output shape, the pipeline is
// built in degraded mode and reports zero detections for every frame instead
// of failing hard; callers can check Degraded and fall back. A shape that is
// present but malformed is a configuration error and fails construction.
type Pipeline struct {
	engine   InferenceEngine
	decoder  *TensorDecoder
	cfg      Config
	degraded bool
}

// NewPipeline validates the engine's declared output shape and fixes the
// decoder configuration. cfg zero values fall back to DefaultConfig.
func NewPipeline(engine InferenceEngine, cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()

	if engine == nil {
		log.Printf("[Pipeline] %v: no inference engine, running degraded (zero detections)", ErrModelUnavailable)
		return &Pipeline{cfg: cfg, degraded: true}, nil
	}

	shape, err := engine.OutputShape()
	if err != nil || len(shape) == 0 {
		log.Printf("[Pipeline] %v: no output shape (%v), running degraded (zero detections)", ErrModelUnavailable, err)
		return &Pipeline{engine: engine, cfg: cfg, degraded: true}, nil
	}

	decoder, err := NewTensorDecoder(shape, cfg.ModelInputSize, cfg.Label)
	if err != nil {
		return nil, fmt.Errorf("configuring decoder: %w", err)
	}

	log.Printf("[Pipeline] Ready: layout=%s candidates=%d input=%dx%d conf>=%.2f iou=%.2f",
		decoder.Layout(), decoder.Candidates(), cfg.ModelInputSize, cfg.ModelInputSize,
		cfg.ConfidenceThreshold, cfg.IoUThreshold)

	return &Pipeline{engine: engine, decoder: decoder, cfg: cfg}, nil
}

// Degraded reports whether the pipeline was built without a usable model.
func (p *Pipeline) Degraded() bool { return p.degraded }

// Config returns the immutable pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Detect runs one detection pass over a pooled frame buffer and returns the
// suppressed detection set, confidence descending, in source-image pixels.
// A degraded pipeline returns an empty set and no error.
func (p *Pipeline) Detect(ctx context.Context, buf *FrameBuffer) ([]Detection, error) {
	if p.degraded {
		return nil, nil
	}

	input := imaging.ModelInput(buf.Pixels, buf.Width, buf.Height, p.cfg.ModelInputSize)
	output, err := p.engine.Infer(ctx, input, p.cfg.ModelInputSize)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	candidates := p.decoder.Decode(output, buf.Width, buf.Height, p.cfg.ConfidenceThreshold)
	return Suppress(candidates, p.cfg.IoUThreshold), nil
}
