// Package diffgate implements a cheap per-job frame-change filter that
// decides whether a freshly captured frame differs enough from the last
// one to be worth a vision call.
package diffgate

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/chuliyu/smart-wait/internal/waitjob"
)

// Config holds the gate's tunable thresholds.
type Config struct {
	// DownsampleWidth bounds the wider dimension of the downsampled frame.
	DownsampleWidth int
	// PixelThreshold is the per-channel intensity delta (0-255) above which
	// a pixel counts as "changed".
	PixelThreshold uint8
	// ChangeRatio is the fraction of changed pixels required to report the
	// frame as changed.
	ChangeRatio float64
}

// DefaultConfig returns the gate's documented default thresholds.
func DefaultConfig() Config {
	return Config{
		DownsampleWidth: 320,
		PixelThreshold:  10,
		ChangeRatio:     0.01,
	}
}

// Gate applies its Config thresholds, through ShouldEvaluate, against a
// job's carried DiffState.
type Gate struct {
	cfg Config
}

// New builds a Gate from cfg.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// ShouldEvaluate decodes frame, downsamples it, and compares it against the
// job's previous downsampled frame, updating state in place. It returns true
// when the frame should be sent to the Vision Adapter.
//
// Contract: the comparison is O(pixels of the downsampled frame); apart
// from decoding frame itself, only the downsampled copy is allocated;
// deterministic for identical frames; frames of differing dimensions across
// calls are always treated as changed.
func (g *Gate) ShouldEvaluate(state *waitjob.DiffState, frame []byte) (bool, error) {
	gray, w, h, err := decodeGray(frame, g.cfg.DownsampleWidth)
	if err != nil {
		return true, err
	}

	if state.Pixels == nil {
		state.Width, state.Height, state.Pixels = w, h, gray
		return true, nil
	}

	if state.Width != w || state.Height != h {
		state.Width, state.Height, state.Pixels = w, h, gray
		return true, nil
	}

	changed := 0
	total := len(gray)
	for i := 0; i < total; i++ {
		d := int(gray[i]) - int(state.Pixels[i])
		if d < 0 {
			d = -d
		}
		if d > int(g.cfg.PixelThreshold) {
			changed++
		}
	}

	state.Pixels = gray
	if total == 0 {
		return true, nil
	}
	ratio := float64(changed) / float64(total)
	return ratio > g.cfg.ChangeRatio, nil
}

// decodeGray decodes frame (JPEG or any image/ format registered by the
// caller) and downsamples it by integer stride so its wider dimension is at
// most maxWidth, returning a flat grayscale byte slice.
func decodeGray(frame []byte, maxWidth int) (pixels []byte, w, h int, err error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		// Some capture backends hand us raw JPEG without a registered
		// decoder elsewhere in the binary; fall back explicitly.
		img, err = jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return nil, 0, 0, err
		}
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return []byte{}, 0, 0, nil
	}

	wider := srcW
	if srcH > wider {
		wider = srcH
	}
	stride := 1
	for stride < wider && (wider+stride-1)/stride > maxWidth {
		stride++
	}

	dstW := (srcW + stride - 1) / stride
	dstH := (srcH + stride - 1) / stride
	out := make([]byte, 0, dstW*dstH)

	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma approximation, computed on 16-bit channel values.
			lum := (299*r + 587*g + 114*b) / 1000
			out = append(out, byte(lum>>8))
		}
	}

	return out, dstW, dstH, nil
}
