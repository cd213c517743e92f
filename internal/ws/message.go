package ws

import (
	"time"

	"veil/internal/pipeline"
)

// RegionMessage is one detection result broadcast to overlay clients. Boxes
// are in the client's display space when it declared a viewport, otherwise in
// source-image pixels.
type RegionMessage struct {
	Type         string    `json:"type"` // "regions"
	Seq          uint64    `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	SourceWidth  int       `json:"source_width"`
	SourceHeight int       `json:"source_height"`
	Regions      []Region  `json:"regions"`
	PassMillis   float32   `json:"pass_ms"`
}

// Region is one flagged region with its confidence.
type Region struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Left       float32 `json:"left"`
	Top        float32 `json:"top"`
	Right      float32 `json:"right"`
	Bottom     float32 `json:"bottom"`
}

// newRegionMessage renders a pipeline result for a client viewport. A zero
// viewport means source coordinates pass through unchanged.
func newRegionMessage(result *pipeline.Result, viewWidth, viewHeight int) *RegionMessage {
	msg := &RegionMessage{
		Type:         "regions",
		Seq:          result.Seq,
		Timestamp:    result.Timestamp,
		SourceWidth:  result.SourceWidth,
		SourceHeight: result.SourceHeight,
		Regions:      make([]Region, 0, len(result.Detections)),
		PassMillis:   result.PassMillis,
	}
	for _, det := range result.Detections {
		box := det.Box
		if viewWidth > 0 && viewHeight > 0 {
			box = pipeline.ToDisplay(box, result.SourceWidth, result.SourceHeight, viewWidth, viewHeight)
		}
		msg.Regions = append(msg.Regions, Region{
			Class:      det.ClassName,
			Confidence: det.Confidence,
			Left:       box.Left,
			Top:        box.Top,
			Right:      box.Right,
			Bottom:     box.Bottom,
		})
	}
	return msg
}
