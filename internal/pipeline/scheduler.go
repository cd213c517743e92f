package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"veil/internal/imaging"
)

// Detector runs one detection pass over a pooled frame buffer.
// *Pipeline is the production implementation.
type Detector interface {
	Detect(ctx context.Context, buf *FrameBuffer) ([]Detection, error)
}

// SchedulerStats counts admission decisions and pass timings.
type SchedulerStats struct {
	FramesSeen         uint64  `json:"frames_seen"`
	FramesAdmitted     uint64  `json:"frames_admitted"`
	DroppedBusy        uint64  `json:"dropped_busy"`
	DroppedInterval    uint64  `json:"dropped_interval"`
	ConversionFailures uint64  `json:"conversion_failures"`
	Processed          uint64  `json:"processed"`
	AvgPassMillis      float32 `json:"avg_pass_ms"`
	LastProcessed      int64   `json:"last_processed"` // Unix timestamp
}

// bufferPool caches a single frame buffer keyed by dimensions. The cached
// buffer is reused as long as frame dimensions stay stable and replaced when
// they change. Only the scheduler's worker goroutine touches it.
type bufferPool struct {
	buf      *FrameBuffer
	allocs   uint64
	releases uint64
}

func (p *bufferPool) acquire(width, height int) (*FrameBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrBufferAcquisition, width, height)
	}
	if p.buf != nil {
		if p.buf.Width == width && p.buf.Height == height {
			return p.buf, nil
		}
		p.buf = nil
		p.releases++
	}
	p.buf = &FrameBuffer{
		Pixels: make([]byte, width*height*4),
		Width:  width,
		Height: height,
	}
	p.allocs++
	return p.buf, nil
}

func (p *bufferPool) drop() {
	if p.buf != nil {
		p.buf = nil
		p.releases++
	}
}

// Scheduler governs admission of frames into the detection pipeline. Offer
// is non-blocking and safe to call from the producer's goroutine at any rate:
// a frame is dropped while a pass is in flight or before the minimum
// processing interval has elapsed, otherwise it is handed to the dedicated
// worker goroutine which copies it into the pooled buffer, runs the detector
// and forwards the result to the sink. At most one pass is ever active.
type Scheduler struct {
	detector    Detector
	sink        ResultSink
	minInterval time.Duration

	mu           sync.Mutex
	inFlight     bool
	lastAdmitted time.Time
	stopped      bool

	pool   bufferPool
	work   chan Frame
	stopCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats   SchedulerStats
	statsMu sync.RWMutex

	now func() time.Time
}

// NewScheduler starts a scheduler delivering results from detector to sink.
// sink may be nil. minInterval <= 0 falls back to the default.
func NewScheduler(detector Detector, sink ResultSink, minInterval time.Duration) *Scheduler {
	if minInterval <= 0 {
		minInterval = DefaultConfig().MinProcessInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		detector:    detector,
		sink:        sink,
		minInterval: minInterval,
		work:        make(chan Frame, 1),
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Offer decides admission for one frame and returns immediately. A true
// return means the frame was admitted and its pixels will be copied on the
// worker; Release (if set) fires once the copy is done. A false return means
// the frame was dropped and the caller keeps full ownership.
func (s *Scheduler) Offer(frame Frame) bool {
	s.statsMu.Lock()
	s.stats.FramesSeen++
	s.statsMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if s.inFlight {
		s.mu.Unlock()
		s.countDrop(func(st *SchedulerStats) { st.DroppedBusy++ })
		return false
	}
	now := s.now()
	if !s.lastAdmitted.IsZero() && now.Sub(s.lastAdmitted) < s.minInterval {
		s.mu.Unlock()
		s.countDrop(func(st *SchedulerStats) { st.DroppedInterval++ })
		return false
	}
	s.inFlight = true
	s.lastAdmitted = now
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.FramesAdmitted++
	s.statsMu.Unlock()

	// Single flight guarantees the worker queue has room here.
	select {
	case s.work <- frame:
		return true
	default:
		s.clearInFlight()
		return false
	}
}

// Stats returns a copy of the current counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Close stops the worker, suppresses any pending result delivery, and
// releases the pooled buffer. In-flight work is cancelled cooperatively and
// waited for. Safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	close(s.stopCh)
	s.wg.Wait()

	// A frame admitted but never picked up still owes its release.
	select {
	case frame := <-s.work:
		releaseFrame(frame)
		s.clearInFlight()
	default:
	}
	s.pool.drop()
	return nil
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case frame := <-s.work:
			s.process(frame)
		}
	}
}

// process copies one admitted frame into the pooled buffer, runs the
// detector, and delivers the result. The in-flight gate is released on every
// exit path, including conversion and detection failures.
func (s *Scheduler) process(frame Frame) {
	start := s.now()
	defer s.clearInFlight()

	buf, err := s.pool.acquire(frame.Width, frame.Height)
	if err != nil {
		releaseFrame(frame)
		s.recordConversionFailure(frame.Seq, err)
		return
	}

	err = imaging.ToRGBA(buf.Pixels, frame.Pixels, frame.Width, frame.Height, frame.Format)
	releaseFrame(frame)
	if err != nil {
		s.recordConversionFailure(frame.Seq, fmt.Errorf("%w: %v", ErrFrameConversion, err))
		return
	}

	detections, err := s.detector.Detect(s.ctx, buf)
	if err != nil {
		// Per-frame failure: report an empty result, keep going.
		log.Printf("[Scheduler] Detection pass failed for frame %d: %v", frame.Seq, err)
		detections = nil
	}

	elapsed := float32(s.now().Sub(start).Microseconds()) / 1000

	s.statsMu.Lock()
	s.stats.Processed++
	if s.stats.AvgPassMillis == 0 {
		s.stats.AvgPassMillis = elapsed
	} else {
		s.stats.AvgPassMillis = (s.stats.AvgPassMillis + elapsed) / 2
	}
	s.stats.LastProcessed = s.now().Unix()
	s.statsMu.Unlock()

	s.deliver(&Result{
		Seq:          frame.Seq,
		Timestamp:    frame.Timestamp,
		SourceWidth:  frame.Width,
		SourceHeight: frame.Height,
		Detections:   detections,
		PassMillis:   elapsed,
	})
}

// deliver forwards a result to the sink unless shutdown has been requested.
func (s *Scheduler) deliver(result *Result) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || s.sink == nil {
		return
	}
	s.sink.OnResult(result)
}

func (s *Scheduler) clearInFlight() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Scheduler) countDrop(bump func(*SchedulerStats)) {
	s.statsMu.Lock()
	bump(&s.stats)
	s.statsMu.Unlock()
}

func (s *Scheduler) recordConversionFailure(seq uint64, err error) {
	log.Printf("[Scheduler] Skipping frame %d: %v", seq, err)
	s.countDrop(func(st *SchedulerStats) { st.ConversionFailures++ })
}

func releaseFrame(frame Frame) {
	if frame.Release != nil {
		frame.Release()
	}
}
