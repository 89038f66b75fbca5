// Package capture turns camera frames and uploaded files into encoded,
// self-contained images ready for classification.
//
// An Image is created for exactly one submission and then discarded; nothing
// in this package caches or reuses buffers across captures.
package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register decoders for EncodeFile.
	"image/jpeg"
	_ "image/png"
	"math"
	"time"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/teslashibe/go-feedscan/pkg/camera"
)

// Encoding qualities.
const (
	// LiveQuality favours speed for periodic live-scan captures.
	LiveQuality = 0.6

	// ManualQuality favours fidelity for shutter and upload captures.
	ManualQuality = 0.8
)

// MIMEJPEG is the encoding used for every re-encoded image.
const MIMEJPEG = "image/jpeg"

var (
	// ErrInvalidQuality is returned for quality outside (0, 1].
	ErrInvalidQuality = errors.New("capture: quality must be in (0, 1]")

	// ErrUnsupportedFormat is returned when a file is not a decodable image.
	ErrUnsupportedFormat = errors.New("capture: unsupported image format")
)

// passthrough lists the formats the classification service accepts as-is.
var passthrough = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Image is an encoded, transmittable image.
type Image struct {
	// Data is the encoded payload.
	Data []byte

	// MIMEType of Data (e.g. "image/jpeg").
	MIMEType string

	// Quality used for lossy encoding; 0 when the original bytes were kept.
	Quality float64

	// Width and Height of the source in pixels (0 if unknown).
	Width, Height int

	// CapturedAt is when the frame was sampled or the file was encoded.
	CapturedAt time.Time
}

// Base64 returns the payload in standard base64.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI returns the payload as a data: URI.
func (i *Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

// Size returns the payload length in bytes.
func (i *Image) Size() int {
	return len(i.Data)
}

// CaptureFrame samples the current frame of stream at its native
// resolution and encodes it as JPEG at quality.
func CaptureFrame(stream camera.Stream, quality float64) (*Image, error) {
	if !validQuality(quality) {
		return nil, ErrInvalidQuality
	}
	if stream == nil {
		return nil, camera.ErrNoStream
	}

	frame, err := stream.Read()
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}

	// The frame itself is the source of truth for the resolution, not the
	// constraints it was requested with.
	b := frame.Bounds()
	if b.Empty() {
		return nil, camera.ErrEmptyFrame
	}

	data, err := EncodeJPEG(frame, quality)
	if err != nil {
		return nil, err
	}

	return &Image{
		Data:       data,
		MIMEType:   MIMEJPEG,
		Quality:    quality,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
	}, nil
}

// EncodeFile wraps an uploaded file. Formats the service accepts pass
// through untouched; other decodable images are re-encoded as JPEG at
// ManualQuality.
func EncodeFile(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedFormat)
	}

	mt := mimetype.Detect(data)
	for _, supported := range passthrough {
		if mt.Is(supported) {
			img := &Image{
				Data:       data,
				MIMEType:   supported,
				CapturedAt: time.Now(),
			}
			if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
				img.Width, img.Height = cfg.Width, cfg.Height
			}
			return img, nil
		}
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}

	out, err := EncodeJPEG(decoded, ManualQuality)
	if err != nil {
		return nil, fmt.Errorf("re-encode %s: %w", format, err)
	}

	b := decoded.Bounds()
	return &Image{
		Data:       out,
		MIMEType:   MIMEJPEG,
		Quality:    ManualQuality,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
	}, nil
}

// EncodeJPEG encodes img as JPEG at quality in (0, 1].
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	if !validQuality(quality) {
		return nil, ErrInvalidQuality
	}

	var buf bytes.Buffer
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func validQuality(q float64) bool {
	return q > 0 && q <= 1
}
