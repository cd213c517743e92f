package inference

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPEngine talks to a remote inference service. The service exposes:
//
//	GET  /v1/model   -> {"output_shape":[1,5,8400],"input_size":512}
//	GET  /v1/health  -> 200 when the model is loaded
//	POST /v1/infer   -> raw little-endian float32 output tensor; the
//	                    X-Inference-Time-Ms response header carries the
//	                    service-side latency.
//
// Input tensors are posted as raw little-endian float32 bodies with the
// square size in the X-Input-Size request header.
type HTTPEngine struct {
	endpoint string
	client   *http.Client

	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
	shape      []int

	lastInferenceMs float32
}

const healthCacheTTL = 30 * time.Second

// NewHTTPEngine creates an engine client for the given base endpoint.
func NewHTTPEngine(endpoint string) *HTTPEngine {
	return &HTTPEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second, // inference can be slow on CPU-only hosts
		},
	}
}

// IsHealthy checks service availability, caching a positive answer briefly.
func (e *HTTPEngine) IsHealthy() bool {
	e.mu.RLock()
	if e.healthy && time.Since(e.lastHealth) < healthCacheTTL {
		e.mu.RUnlock()
		return true
	}
	e.mu.RUnlock()

	resp, err := e.client.Get(e.endpoint + "/v1/health")
	if err != nil {
		e.setHealthy(false)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	e.setHealthy(ok)
	return ok
}

func (e *HTTPEngine) setHealthy(ok bool) {
	e.mu.Lock()
	e.healthy = ok
	if ok {
		e.lastHealth = time.Now()
	}
	e.mu.Unlock()
}

// OutputShape fetches and caches the model's declared output shape.
func (e *HTTPEngine) OutputShape() ([]int, error) {
	e.mu.RLock()
	if e.shape != nil {
		shape := e.shape
		e.mu.RUnlock()
		return shape, nil
	}
	e.mu.RUnlock()

	resp, err := e.client.Get(e.endpoint + "/v1/model")
	if err != nil {
		return nil, fmt.Errorf("querying model info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model info returned status %d: %s", resp.StatusCode, string(body))
	}

	var info struct {
		OutputShape []int `json:"output_shape"`
		InputSize   int   `json:"input_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding model info: %w", err)
	}
	if len(info.OutputShape) == 0 {
		return nil, fmt.Errorf("model info carries no output shape")
	}

	e.mu.Lock()
	e.shape = info.OutputShape
	e.mu.Unlock()

	log.Printf("[Inference] Model ready at %s: output shape %v, input %d", e.endpoint, info.OutputShape, info.InputSize)
	return info.OutputShape, nil
}

// Infer posts one input tensor and decodes the raw output tensor.
func (e *HTTPEngine) Infer(ctx context.Context, input []float32, size int) ([]float32, error) {
	body := encodeTensor(input)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/infer", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Input-Size", strconv.Itoa(size))

	resp, err := e.client.Do(req)
	if err != nil {
		e.setHealthy(false)
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("inference returned status %d: %s", resp.StatusCode, string(msg))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading output tensor: %w", err)
	}
	output, err := decodeTensor(raw)
	if err != nil {
		return nil, err
	}

	if ms := resp.Header.Get("X-Inference-Time-Ms"); ms != "" {
		if v, err := strconv.ParseFloat(ms, 32); err == nil {
			e.mu.Lock()
			e.lastInferenceMs = float32(v)
			e.mu.Unlock()
		}
	}
	return output, nil
}

// LastInferenceMillis returns the service-reported latency of the most
// recent pass, 0 if none completed yet.
func (e *HTTPEngine) LastInferenceMillis() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastInferenceMs
}

// Close releases idle connections.
func (e *HTTPEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func encodeTensor(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeTensor(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("output tensor has %d bytes, not a multiple of 4", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

var _ Engine = (*HTTPEngine)(nil)
