package imaging

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Format identifies the pixel layout of raw frame data.
type Format int

const (
	// FormatRGBA - 4 bytes per pixel: R, G, B, A
	FormatRGBA Format = iota
	// FormatBGRA - 4 bytes per pixel: B, G, R, A
	FormatBGRA
	// FormatGray - 1 byte per pixel
	FormatGray
)

var ErrShortPixelData = errors.New("pixel data shorter than frame dimensions")

// BytesPerPixel returns the storage size of one pixel in this format.
func (f Format) BytesPerPixel() int {
	if f == FormatGray {
		return 1
	}
	return 4
}

func (f Format) String() string {
	switch f {
	case FormatRGBA:
		return "rgba"
	case FormatBGRA:
		return "bgra"
	case FormatGray:
		return "gray"
	default:
		return "unknown"
	}
}

// ToRGBA copies src pixels into dst as tightly packed RGBA.
// dst must hold at least width*height*4 bytes.
func ToRGBA(dst, src []byte, width, height int, format Format) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	pixels := width * height
	if len(dst) < pixels*4 {
		return fmt.Errorf("destination holds %d bytes, need %d: %w", len(dst), pixels*4, ErrShortPixelData)
	}
	if len(src) < pixels*format.BytesPerPixel() {
		return fmt.Errorf("source holds %d bytes, need %d: %w", len(src), pixels*format.BytesPerPixel(), ErrShortPixelData)
	}

	switch format {
	case FormatRGBA:
		copy(dst, src[:pixels*4])
	case FormatBGRA:
		for i := 0; i < pixels; i++ {
			o := i * 4
			dst[o] = src[o+2]
			dst[o+1] = src[o+1]
			dst[o+2] = src[o]
			dst[o+3] = src[o+3]
		}
	case FormatGray:
		for i := 0; i < pixels; i++ {
			v := src[i]
			o := i * 4
			dst[o] = v
			dst[o+1] = v
			dst[o+2] = v
			dst[o+3] = 0xFF
		}
	default:
		return fmt.Errorf("unsupported pixel format %d", format)
	}
	return nil
}

// ModelInput stretches a tightly packed RGBA buffer to a size x size square
// and returns the model input tensor: CHW order, RGB planes, values in [0,1].
// No aspect-ratio correction is applied; distortion is accepted.
func ModelInput(rgba []byte, width, height, size int) []float32 {
	if size <= 0 {
		return nil
	}
	plane := size * size
	out := make([]float32, 3*plane)
	if width <= 0 || height <= 0 || len(rgba) < width*height*4 {
		return out
	}

	src := &image.RGBA{
		Pix:    rgba[:width*height*4],
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	for i := 0; i < plane; i++ {
		o := i * 4
		out[i] = float32(dst.Pix[o]) / 255
		out[plane+i] = float32(dst.Pix[o+1]) / 255
		out[2*plane+i] = float32(dst.Pix[o+2]) / 255
	}
	return out
}
