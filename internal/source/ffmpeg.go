// Package source captures raw frames from a live video device or stream and
// pushes them into the detection scheduler. The scheduler decides admission;
// the source never blocks on it.
package source

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"veil/internal/imaging"
	"veil/internal/pipeline"
)

// Consumer admits or drops offered frames without blocking.
type Consumer interface {
	Offer(frame pipeline.Frame) bool
}

// Stats counts frames produced by the source.
type Stats struct {
	Captured  uint64
	Forwarded uint64
	Dropped   uint64
}

// FFmpegSource spawns ffmpeg to decode an RTSP stream, a V4L2 device or an
// X11 display grab into fixed-size raw RGBA frames. Frame byte buffers are
// recycled through a small free list so a steady stream does not allocate
// per frame; an admitted frame's buffer returns to the list when the
// scheduler releases it.
type FFmpegSource struct {
	device   string
	fps      int
	width    int
	height   int
	consumer Consumer

	cmd     *exec.Cmd
	stopCh  chan struct{}
	running atomic.Bool
	seq     atomic.Uint64

	free chan []byte

	captured  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64

	mu sync.Mutex
}

// New creates a source for the given device.
func New(device string, fps, width, height int, consumer Consumer) *FFmpegSource {
	if fps <= 0 {
		fps = 15
	}
	return &FFmpegSource{
		device:   device,
		fps:      fps,
		width:    width,
		height:   height,
		consumer: consumer,
		stopCh:   make(chan struct{}),
		free:     make(chan []byte, 3),
	}
}

// Start launches ffmpeg and begins pushing frames until Stop.
func (s *FFmpegSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("source already started for %s", s.device)
	}
	if s.width <= 0 || s.height <= 0 {
		return fmt.Errorf("invalid capture dimensions %dx%d", s.width, s.height)
	}

	cmd := exec.Command("ffmpeg", s.buildArgs()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	s.cmd = cmd
	s.running.Store(true)

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	go s.readLoop(stdout)

	log.Printf("[Source] Started capture (device: %s, %dx%d @ %d fps)", s.device, s.width, s.height, s.fps)
	return nil
}

// Stop halts capture. Safe to call more than once.
func (s *FFmpegSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}
	close(s.stopCh)
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.running.Store(false)
	log.Printf("[Source] Stopped capture for %s", s.device)
}

// IsRunning reports whether the capture loop is active.
func (s *FFmpegSource) IsRunning() bool {
	return s.running.Load()
}

// Stats returns a snapshot of the frame counters.
func (s *FFmpegSource) Stats() Stats {
	return Stats{
		Captured:  s.captured.Load(),
		Forwarded: s.forwarded.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *FFmpegSource) buildArgs() []string {
	var in []string
	switch {
	case strings.HasPrefix(s.device, "rtsp://"):
		in = []string{"-rtsp_transport", "tcp", "-i", s.device}
	case strings.HasPrefix(s.device, ":"):
		// X11 display grab, e.g. ":0.0"
		in = []string{
			"-f", "x11grab",
			"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
			"-framerate", fmt.Sprintf("%d", s.fps),
			"-i", s.device,
		}
	default:
		// V4L2 device (USB camera)
		in = []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
			"-framerate", fmt.Sprintf("%d", s.fps),
			"-i", s.device,
		}
	}
	return append(in,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.width, s.height),
		"-r", fmt.Sprintf("%d", s.fps),
		"-",
	)
}

func (s *FFmpegSource) readLoop(stdout io.Reader) {
	defer s.running.Store(false)

	frameSize := s.width * s.height * 4
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		buf := s.acquire(frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				log.Printf("[Source] Error reading frame: %v", err)
			}
			s.release(buf)
			return
		}

		seq := s.seq.Add(1)
		s.captured.Add(1)

		frame := pipeline.Frame{
			Pixels:    buf,
			Width:     s.width,
			Height:    s.height,
			Format:    imaging.FormatRGBA,
			Seq:       seq,
			Timestamp: time.Now(),
			Release:   func() { s.release(buf) },
		}

		if s.consumer.Offer(frame) {
			s.forwarded.Add(1)
		} else {
			// Dropped frames stay ours; recycle immediately.
			s.release(buf)
			s.dropped.Add(1)
		}

		if seq%300 == 0 {
			log.Printf("[Source] %s: frame %d (forwarded %d, dropped %d)",
				s.device, seq, s.forwarded.Load(), s.dropped.Load())
		}
	}
}

func (s *FFmpegSource) acquire(size int) []byte {
	select {
	case buf := <-s.free:
		if len(buf) == size {
			return buf
		}
	default:
	}
	return make([]byte, size)
}

func (s *FFmpegSource) release(buf []byte) {
	select {
	case s.free <- buf:
	default:
	}
}
