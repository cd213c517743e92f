package pipeline

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewTensorDecoderLayouts(t *testing.T) {
	tests := []struct {
		name       string
		shape      []int
		layout     TensorLayout
		candidates int
	}{
		{"row major", []int{8400, 5}, LayoutRowMajor, 8400},
		{"feature major", []int{5, 8400}, LayoutFeatureMajor, 8400},
		{"batched row major", []int{1, 8400, 5}, LayoutRowMajor, 8400},
		{"batched feature major", []int{1, 5, 8400}, LayoutFeatureMajor, 8400},
		{"double batched", []int{1, 1, 5, 300}, LayoutFeatureMajor, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewTensorDecoder(tt.shape, 512, "flagged")
			if err != nil {
				t.Fatalf("NewTensorDecoder(%v) error: %v", tt.shape, err)
			}
			if d.Layout() != tt.layout {
				t.Errorf("layout = %v, want %v", d.Layout(), tt.layout)
			}
			if d.Candidates() != tt.candidates {
				t.Errorf("candidates = %d, want %d", d.Candidates(), tt.candidates)
			}
		})
	}
}

func TestNewTensorDecoderRejectsMalformedShapes(t *testing.T) {
	shapes := [][]int{
		nil,
		{},
		{5},
		{3, 4},
		{8400, 6},
		{1, 2, 3, 4},
	}
	for _, shape := range shapes {
		if _, err := NewTensorDecoder(shape, 512, "flagged"); !errors.Is(err, ErrMalformedTensor) {
			t.Errorf("NewTensorDecoder(%v) error = %v, want ErrMalformedTensor", shape, err)
		}
	}
}

func TestDecodeNormalizedCandidate(t *testing.T) {
	d, err := NewTensorDecoder([]int{1, 5}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}

	data := []float32{0.5, 0.5, 0.2, 0.2, 0.9}
	got := d.Decode(data, 1000, 800, 0.1)
	if len(got) != 1 {
		t.Fatalf("got %d detections, want 1", len(got))
	}

	det := got[0]
	if det.CenterX != 500 || det.CenterY != 400 {
		t.Errorf("center = (%v, %v), want (500, 400)", det.CenterX, det.CenterY)
	}
	if det.Width != 200 || det.Height != 160 {
		t.Errorf("size = (%v, %v), want (200, 160)", det.Width, det.Height)
	}
	want := Box{Left: 400, Top: 320, Right: 600, Bottom: 480}
	if det.Box != want {
		t.Errorf("box = %+v, want %+v", det.Box, want)
	}
	if det.ClassName != "flagged" {
		t.Errorf("class = %q, want %q", det.ClassName, "flagged")
	}
}

func TestDecodePixelCandidate(t *testing.T) {
	d, err := NewTensorDecoder([]int{1, 5}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}

	data := []float32{256, 256, 100, 100, 0.9}
	got := d.Decode(data, 1000, 800, 0.1)
	if len(got) != 1 {
		t.Fatalf("got %d detections, want 1", len(got))
	}

	// 1000/512 and 800/512 are exact in float32.
	det := got[0]
	if det.CenterX != 500 || det.CenterY != 400 {
		t.Errorf("center = (%v, %v), want (500, 400)", det.CenterX, det.CenterY)
	}
	if det.Width != 195.3125 || det.Height != 156.25 {
		t.Errorf("size = (%v, %v), want (195.3125, 156.25)", det.Width, det.Height)
	}
}

func TestDecodeMixedConventionsInOneTensor(t *testing.T) {
	d, err := NewTensorDecoder([]int{2, 5}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}

	// First candidate is normalized, second is model-input pixels. The
	// convention is chosen per candidate.
	data := []float32{
		0.5, 0.5, 0.2, 0.2, 0.9,
		256, 256, 100, 100, 0.8,
	}
	got := d.Decode(data, 512, 512, 0.1)
	if len(got) != 2 {
		t.Fatalf("got %d detections, want 2", len(got))
	}
	if got[0].CenterX != 256 || got[0].Width != 102.4 {
		t.Errorf("normalized candidate = (%v, %v), want (256, 102.4)", got[0].CenterX, got[0].Width)
	}
	if got[1].CenterX != 256 || got[1].Width != 100 {
		t.Errorf("pixel candidate = (%v, %v), want (256, 100)", got[1].CenterX, got[1].Width)
	}
}

func TestDecodeLayoutEquivalence(t *testing.T) {
	rows := [][]float32{
		{0.5, 0.5, 0.2, 0.2, 0.9},
		{300, 200, 80, 60, 0.7},
		{0.1, 0.9, 0.05, 0.05, 0.3},
	}
	n := len(rows)

	rowMajor := make([]float32, 0, n*featureCount)
	for _, r := range rows {
		rowMajor = append(rowMajor, r...)
	}
	featureMajor := make([]float32, n*featureCount)
	for i, r := range rows {
		for f, v := range r {
			featureMajor[f*n+i] = v
		}
	}

	dr, err := NewTensorDecoder([]int{n, featureCount}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}
	df, err := NewTensorDecoder([]int{featureCount, n}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}

	gotRow := dr.Decode(rowMajor, 1280, 720, 0.1)
	gotFeature := df.Decode(featureMajor, 1280, 720, 0.1)
	if !reflect.DeepEqual(gotRow, gotFeature) {
		t.Errorf("layouts disagree:\nrow major:     %+v\nfeature major: %+v", gotRow, gotFeature)
	}
}

func TestDecodeConfidenceThreshold(t *testing.T) {
	d, err := NewTensorDecoder([]int{3, 5}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}

	data := []float32{
		0.5, 0.5, 0.2, 0.2, 0.05,
		0.5, 0.5, 0.2, 0.2, 0.10,
		0.5, 0.5, 0.2, 0.2, 0.95,
	}
	got := d.Decode(data, 640, 480, 0.10)
	if len(got) != 2 {
		t.Fatalf("got %d detections, want 2 (threshold keeps >= cases)", len(got))
	}
	for _, det := range got {
		if det.Confidence < 0.10 {
			t.Errorf("kept detection below threshold: %v", det.Confidence)
		}
	}
}

func TestDecodeEmptyAndTruncatedData(t *testing.T) {
	d, err := NewTensorDecoder([]int{4, 5}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}

	if got := d.Decode(nil, 640, 480, 0.1); got != nil {
		t.Errorf("Decode(nil) = %v, want nil", got)
	}

	// Only two full candidates fit; the decoder must not read past them.
	data := []float32{
		0.5, 0.5, 0.2, 0.2, 0.9,
		0.4, 0.4, 0.1, 0.1, 0.8,
		0.3, 0.3, // trailing partial row
	}
	if got := d.Decode(data, 640, 480, 0.1); len(got) != 2 {
		t.Errorf("got %d detections from truncated tensor, want 2", len(got))
	}
}

func TestDecodeZeroSourceDimensions(t *testing.T) {
	d, err := NewTensorDecoder([]int{1, 5}, 512, "flagged")
	if err != nil {
		t.Fatal(err)
	}

	got := d.Decode([]float32{0.5, 0.5, 0.2, 0.2, 0.9}, 0, 0, 0.1)
	if len(got) != 1 {
		t.Fatalf("got %d detections, want 1", len(got))
	}
	if area := got[0].Box.Area(); area != 0 {
		t.Errorf("box area = %v, want 0 for zero-sized source", area)
	}
}
