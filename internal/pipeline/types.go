package pipeline

import (
	"errors"
	"time"

	"veil/internal/imaging"
)

// featureCount is the number of features per candidate in the model output:
// center x, center y, width, height, confidence.
const featureCount = 5

var (
	// ErrModelUnavailable - the inference engine failed to initialize or
	// produced no output shape; the pipeline degrades to zero detections.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrMalformedTensor - the declared output shape does not carry the
	// expected feature count; fatal at construction, never retried per frame.
	ErrMalformedTensor = errors.New("malformed output tensor shape")
	// ErrFrameConversion - a frame's pixels could not be copied into the
	// pooled buffer; the frame is dropped, pipeline state is unaffected.
	ErrFrameConversion = errors.New("frame conversion failed")
	// ErrBufferAcquisition - the pool could not provide a buffer of the
	// requested dimensions; treated as a conversion failure for that frame.
	ErrBufferAcquisition = errors.New("buffer acquisition failed")
)

// TensorLayout describes how candidates are arranged in the raw output tensor.
type TensorLayout int

const (
	// LayoutRowMajor - shape [N, 5], one row per candidate
	LayoutRowMajor TensorLayout = iota
	// LayoutFeatureMajor - shape [5, N], one row per feature
	LayoutFeatureMajor
)

func (l TensorLayout) String() string {
	if l == LayoutFeatureMajor {
		return "feature_major"
	}
	return "row_major"
}

// Box is an axis-aligned rectangle in corner form. Coordinates are pixels in
// whatever space the box was produced in (source image unless mapped).
type Box struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

func (b Box) Width() float32  { return b.Right - b.Left }
func (b Box) Height() float32 { return b.Bottom - b.Top }

// Area returns the box area, or 0 for boxes with non-positive extent.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// clipTo clamps the box into [0, width] x [0, height]. A box entirely outside
// the bounds collapses to zero area at the nearest edge, never negative.
func (b Box) clipTo(width, height float32) Box {
	return Box{
		Left:   clamp(b.Left, 0, width),
		Top:    clamp(b.Top, 0, height),
		Right:  clamp(b.Right, 0, width),
		Bottom: clamp(b.Bottom, 0, height),
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Detection is one flagged region in source-image pixels. It is immutable
// after construction; the corner-form box is computed once here because it is
// read repeatedly during suppression and rendering.
type Detection struct {
	CenterX    float32 `json:"center_x"`
	CenterY    float32 `json:"center_y"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Box        Box     `json:"box"`
}

// NewDetection builds a detection from center geometry, precomputing the
// corner box clipped to the source bounds.
func NewDetection(cx, cy, w, h, confidence float32, classID int, className string, sourceW, sourceH float32) Detection {
	box := Box{
		Left:   cx - w/2,
		Top:    cy - h/2,
		Right:  cx + w/2,
		Bottom: cy + h/2,
	}.clipTo(sourceW, sourceH)

	return Detection{
		CenterX:    cx,
		CenterY:    cy,
		Width:      w,
		Height:     h,
		Confidence: confidence,
		ClassID:    classID,
		ClassName:  className,
		Box:        box,
	}
}

// Config holds the pipeline tuning knobs. Immutable for the pipeline's
// lifetime; set at construction.
type Config struct {
	ConfidenceThreshold float32       `json:"confidence_threshold"`
	IoUThreshold        float32       `json:"iou_threshold"`
	ModelInputSize      int           `json:"model_input_size"`
	MinProcessInterval  time.Duration `json:"min_process_interval"`
	Label               string        `json:"label"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.10,
		IoUThreshold:        0.45,
		ModelInputSize:      512,
		MinProcessInterval:  300 * time.Millisecond,
		Label:               "flagged",
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if c.IoUThreshold <= 0 {
		c.IoUThreshold = def.IoUThreshold
	}
	if c.ModelInputSize <= 0 {
		c.ModelInputSize = def.ModelInputSize
	}
	if c.MinProcessInterval <= 0 {
		c.MinProcessInterval = def.MinProcessInterval
	}
	if c.Label == "" {
		c.Label = def.Label
	}
	return c
}

// Frame is one captured frame offered to the scheduler. Ownership of Pixels
// stays with the producer: a dropped frame is never retained, and for an
// admitted frame Release (if set) is invoked as soon as the pixels have been
// copied into the pooled buffer.
type Frame struct {
	Pixels    []byte
	Width     int
	Height    int
	Format    imaging.Format
	Seq       uint64
	Timestamp time.Time
	Release   func()
}

// FrameBuffer is a reusable pixel buffer owned by the scheduler's pool.
// Pixels are tightly packed RGBA.
type FrameBuffer struct {
	Pixels []byte
	Width  int
	Height int
}

// Result is the outcome of one detection pass, delivered to sinks in
// admission order.
type Result struct {
	Seq          uint64      `json:"seq"`
	Timestamp    time.Time   `json:"timestamp"`
	SourceWidth  int         `json:"source_width"`
	SourceHeight int         `json:"source_height"`
	Detections   []Detection `json:"detections"`
	PassMillis   float32     `json:"pass_ms"`
}

// ResultSink receives detection results. OnResult is called synchronously
// from the scheduler's worker; slow sinks delay subsequent passes, they never
// block the frame producer.
type ResultSink interface {
	OnResult(result *Result)
}
