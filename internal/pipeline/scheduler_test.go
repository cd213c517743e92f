package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"veil/internal/imaging"
)

// fakeDetector lets tests control when a pass completes and observe which
// buffers it was handed.
type fakeDetector struct {
	mu      sync.Mutex
	buffers []*FrameBuffer

	block   chan struct{} // closed to unblock a blocking detector
	started chan struct{} // receives once per Detect entry
	err     error
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{started: make(chan struct{}, 16)}
}

func (d *fakeDetector) Detect(ctx context.Context, buf *FrameBuffer) ([]Detection, error) {
	d.mu.Lock()
	d.buffers = append(d.buffers, buf)
	d.mu.Unlock()

	d.started <- struct{}{}
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return []Detection{det(box(0, 0, 10, 10), 0.9)}, nil
}

func (d *fakeDetector) seenBuffers() []*FrameBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FrameBuffer(nil), d.buffers...)
}

// chanSink collects delivered results.
type chanSink struct {
	ch chan *Result
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *Result, 16)}
}

func (s *chanSink) OnResult(result *Result) { s.ch <- result }

func (s *chanSink) wait(t *testing.T) *Result {
	t.Helper()
	select {
	case r := <-s.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result delivery")
		return nil
	}
}

func testFrame(seq uint64, width, height int) Frame {
	return Frame{
		Pixels:    make([]byte, width*height*4),
		Width:     width,
		Height:    height,
		Format:    imaging.FormatRGBA,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// waitIdle polls until the in-flight gate clears.
func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		busy := s.inFlight
		s.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("scheduler never went idle")
}

func TestSchedulerSingleFlight(t *testing.T) {
	detector := newFakeDetector()
	detector.block = make(chan struct{})
	sink := newChanSink()
	s := NewScheduler(detector, sink, time.Millisecond)
	defer s.Close()

	if !s.Offer(testFrame(1, 16, 16)) {
		t.Fatal("first frame not admitted")
	}
	<-detector.started

	// The pass is in flight; a burst of offers must all drop as busy.
	for seq := uint64(2); seq <= 10; seq++ {
		if s.Offer(testFrame(seq, 16, 16)) {
			t.Errorf("frame %d admitted while a pass was in flight", seq)
		}
	}

	close(detector.block)
	r := sink.wait(t)
	if r.Seq != 1 {
		t.Errorf("result seq = %d, want 1", r.Seq)
	}

	stats := s.Stats()
	if stats.FramesSeen != 10 {
		t.Errorf("FramesSeen = %d, want 10", stats.FramesSeen)
	}
	if stats.FramesAdmitted != 1 {
		t.Errorf("FramesAdmitted = %d, want 1", stats.FramesAdmitted)
	}
	if stats.DroppedBusy != 9 {
		t.Errorf("DroppedBusy = %d, want 9", stats.DroppedBusy)
	}
}

func TestSchedulerMinInterval(t *testing.T) {
	detector := newFakeDetector()
	sink := newChanSink()
	s := NewScheduler(detector, sink, 100*time.Millisecond)
	defer s.Close()

	base := time.Now()
	clock := base
	var clockMu sync.Mutex
	s.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		clock = clock.Add(d)
		clockMu.Unlock()
	}

	if !s.Offer(testFrame(1, 16, 16)) {
		t.Fatal("first frame not admitted")
	}
	sink.wait(t)
	waitIdle(t, s)

	advance(50 * time.Millisecond)
	if s.Offer(testFrame(2, 16, 16)) {
		t.Error("frame admitted inside the minimum interval")
	}

	advance(60 * time.Millisecond)
	if !s.Offer(testFrame(3, 16, 16)) {
		t.Error("frame not admitted after the interval elapsed")
	}
	sink.wait(t)

	stats := s.Stats()
	if stats.DroppedInterval != 1 {
		t.Errorf("DroppedInterval = %d, want 1", stats.DroppedInterval)
	}
	if stats.FramesAdmitted != 2 {
		t.Errorf("FramesAdmitted = %d, want 2", stats.FramesAdmitted)
	}
}

func TestSchedulerDetectorErrorDeliversEmptyResult(t *testing.T) {
	detector := newFakeDetector()
	detector.err = errors.New("engine offline")
	sink := newChanSink()
	s := NewScheduler(detector, sink, time.Millisecond)
	defer s.Close()

	if !s.Offer(testFrame(1, 16, 16)) {
		t.Fatal("frame not admitted")
	}
	r := sink.wait(t)
	if len(r.Detections) != 0 {
		t.Errorf("got %d detections after detector error, want 0", len(r.Detections))
	}
	waitIdle(t, s)

	// The gate must clear so later frames still flow.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	if !s.Offer(testFrame(2, 16, 16)) {
		t.Error("frame not admitted after a failed pass")
	}
	sink.wait(t)
}

func TestSchedulerBufferPoolReuse(t *testing.T) {
	detector := newFakeDetector()
	sink := newChanSink()
	s := NewScheduler(detector, sink, time.Millisecond)
	defer s.Close()

	base := time.Now()
	offset := time.Duration(0)
	var clockMu sync.Mutex
	s.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return base.Add(offset)
	}
	step := func() {
		clockMu.Lock()
		offset += time.Second
		clockMu.Unlock()
	}

	for seq := uint64(1); seq <= 2; seq++ {
		step()
		if !s.Offer(testFrame(seq, 16, 16)) {
			t.Fatalf("frame %d not admitted", seq)
		}
		sink.wait(t)
		waitIdle(t, s)
	}

	bufs := detector.seenBuffers()
	if len(bufs) != 2 {
		t.Fatalf("detector saw %d buffers, want 2", len(bufs))
	}
	if bufs[0] != bufs[1] {
		t.Error("buffer not reused across same-sized frames")
	}
	if s.pool.allocs != 1 {
		t.Errorf("pool allocs = %d, want 1", s.pool.allocs)
	}

	// Dimension change replaces the pooled buffer exactly once.
	step()
	if !s.Offer(testFrame(3, 32, 8)) {
		t.Fatal("resized frame not admitted")
	}
	sink.wait(t)
	waitIdle(t, s)

	bufs = detector.seenBuffers()
	if bufs[2] == bufs[1] {
		t.Error("buffer not replaced after dimension change")
	}
	if bufs[2].Width != 32 || bufs[2].Height != 8 {
		t.Errorf("new buffer is %dx%d, want 32x8", bufs[2].Width, bufs[2].Height)
	}
	if s.pool.allocs != 2 || s.pool.releases != 1 {
		t.Errorf("pool allocs/releases = %d/%d, want 2/1", s.pool.allocs, s.pool.releases)
	}
}

func TestSchedulerReleasesAdmittedFrame(t *testing.T) {
	detector := newFakeDetector()
	sink := newChanSink()
	s := NewScheduler(detector, sink, time.Millisecond)
	defer s.Close()

	released := make(chan struct{})
	frame := testFrame(1, 16, 16)
	frame.Release = func() { close(released) }

	if !s.Offer(frame) {
		t.Fatal("frame not admitted")
	}
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("admitted frame never released")
	}
	sink.wait(t)
}

func TestSchedulerInvalidDimensionsCountAsConversionFailure(t *testing.T) {
	detector := newFakeDetector()
	sink := newChanSink()
	s := NewScheduler(detector, sink, time.Millisecond)
	defer s.Close()

	released := false
	frame := Frame{Seq: 1, Format: imaging.FormatRGBA, Release: func() { released = true }}
	if !s.Offer(frame) {
		t.Fatal("frame not admitted")
	}
	waitIdle(t, s)

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().ConversionFailures == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := s.Stats().ConversionFailures; got != 1 {
		t.Fatalf("ConversionFailures = %d, want 1", got)
	}
	if !released {
		t.Error("failed frame never released")
	}
	if len(detector.seenBuffers()) != 0 {
		t.Error("detector ran despite conversion failure")
	}
}

func TestSchedulerCloseSuppressesDelivery(t *testing.T) {
	detector := newFakeDetector()
	detector.block = make(chan struct{})
	sink := newChanSink()
	s := NewScheduler(detector, sink, time.Millisecond)

	if !s.Offer(testFrame(1, 16, 16)) {
		t.Fatal("frame not admitted")
	}
	<-detector.started

	// Close cancels the in-flight pass and waits it out.
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case r := <-sink.ch:
		t.Errorf("result %d delivered after Close", r.Seq)
	default:
	}

	if s.Offer(testFrame(2, 16, 16)) {
		t.Error("frame admitted after Close")
	}

	// Second Close is a no-op.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
