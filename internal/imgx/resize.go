// Package imgx prepares captured photos for upload: decode, bound the
// longer edge to a maximum pixel dimension preserving aspect ratio, and
// re-encode as fixed-quality JPEG to cap storage and bandwidth cost.
package imgx

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// Downscale decodes data (JPEG or PNG), scales it down so that the longer
// edge does not exceed maxEdge (aspect ratio preserved; images already
// within the bound are not upscaled) and re-encodes as JPEG with the given
// quality (1..100). The returned content type is always "image/jpeg".
func Downscale(data []byte, maxEdge int, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	tw, th := bound(w, h, maxEdge)

	var out image.Image = src
	if tw != w || th != h {
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// bound returns the target dimensions with the longer edge capped at maxEdge.
// Dimensions are never increased and never rounded down to zero.
func bound(w, h, maxEdge int) (int, int) {
	longer := w
	if h > w {
		longer = h
	}
	if maxEdge <= 0 || longer <= maxEdge {
		return w, h
	}

	scale := float64(maxEdge) / float64(longer)
	tw := int(float64(w)*scale + 0.5)
	th := int(float64(h)*scale + 0.5)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}
