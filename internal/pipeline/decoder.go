package pipeline

import (
	"fmt"
)

// TensorDecoder turns one raw inference output tensor into unsuppressed
// candidate detections. The layout is fixed once from the model's declared
// output shape and reused for every frame.
type TensorDecoder struct {
	layout         TensorLayout
	candidates     int
	modelInputSize int
	label          string
}

// NewTensorDecoder inspects the declared output shape and fixes the tensor
// layout. Leading batch dimensions of 1 are ignored. Shapes that do not carry
// the expected feature count on either axis are rejected with
// ErrMalformedTensor.
func NewTensorDecoder(shape []int, modelInputSize int, label string) (*TensorDecoder, error) {
	dims := shape
	for len(dims) > 2 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: got shape %v, want two dimensions", ErrMalformedTensor, shape)
	}

	d := &TensorDecoder{modelInputSize: modelInputSize, label: label}
	switch {
	case dims[1] == featureCount:
		d.layout = LayoutRowMajor
		d.candidates = dims[0]
	case dims[0] == featureCount:
		d.layout = LayoutFeatureMajor
		d.candidates = dims[1]
	default:
		return nil, fmt.Errorf("%w: got shape %v, want %d features on one axis", ErrMalformedTensor, shape, featureCount)
	}
	return d, nil
}

// Layout returns the layout fixed at construction.
func (d *TensorDecoder) Layout() TensorLayout { return d.layout }

// Candidates returns the per-tensor candidate count fixed at construction.
func (d *TensorDecoder) Candidates() int { return d.candidates }

// Decode reads every candidate from data, discards those below the confidence
// threshold, and emits detections with geometry in source-image pixels.
// The output is unordered and unsuppressed.
func (d *TensorDecoder) Decode(data []float32, sourceWidth, sourceHeight int, confidenceThreshold float32) []Detection {
	n := d.candidates
	if got := len(data) / featureCount; got < n {
		n = got
	}
	if n == 0 {
		return nil
	}

	srcW := float32(sourceWidth)
	srcH := float32(sourceHeight)
	detections := make([]Detection, 0, 8)

	for i := 0; i < n; i++ {
		var x, y, w, h, confidence float32
		if d.layout == LayoutRowMajor {
			base := i * featureCount
			x, y, w, h, confidence = data[base], data[base+1], data[base+2], data[base+3], data[base+4]
		} else {
			x, y, w, h, confidence = data[i], data[n+i], data[2*n+i], data[3*n+i], data[4*n+i]
		}

		if confidence < confidenceThreshold {
			continue
		}

		// The model's output convention is ambiguous: geometry may be
		// normalized fractions or pixels relative to the model input square.
		// The check is per candidate, not per tensor, so a single tensor can
		// mix both conventions. Likely a latent inconsistency upstream;
		// preserved as observed behavior.
		var cx, cy, bw, bh float32
		if x <= 1 && y <= 1 && w <= 1 && h <= 1 {
			cx = x * srcW
			cy = y * srcH
			bw = w * srcW
			bh = h * srcH
		} else {
			sx := srcW / float32(d.modelInputSize)
			sy := srcH / float32(d.modelInputSize)
			cx = x * sx
			cy = y * sy
			bw = w * sx
			bh = h * sy
		}

		detections = append(detections, NewDetection(cx, cy, bw, bh, confidence, 0, d.label, srcW, srcH))
	}
	return detections
}
