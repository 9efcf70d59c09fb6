package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

// FitAspect center-crops an image whose width/height ratio falls outside
// [min, max] to the nearest bound and re-encodes it as JPEG, lowering the
// quality from 90 down to 50 while the result exceeds maxBytes. Compliant
// or undecodable images are returned unchanged with false.
func FitAspect(a *Asset, min, max float64, maxBytes int64) (*Asset, bool, error) {
	if a.Width <= 0 || a.Height <= 0 || min <= 0 || max <= 0 {
		return a, false, nil
	}
	ratio := float64(a.Width) / float64(a.Height)
	if ratio >= min && ratio <= max {
		return a, false, nil
	}

	src, err := imaging.Decode(bytes.NewReader(a.Data), imaging.AutoOrientation(true))
	if err != nil {
		return a, false, nil
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	ratio = float64(w) / float64(h)

	cw, ch := w, h
	switch {
	case ratio < min:
		ch = int(math.Floor(float64(w) / min))
	case ratio > max:
		cw = int(math.Floor(float64(h) * max))
	}
	cropped := imaging.CropCenter(src, cw, ch)

	// Flatten transparency onto white; JPEG has no alpha.
	canvas := imaging.New(cw, ch, color.White)
	canvas = imaging.Overlay(canvas, cropped, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	for quality := 90; quality >= 50; quality -= 10 {
		buf.Reset()
		if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, false, fmt.Errorf("encode cropped image: %w", err)
		}
		if maxBytes <= 0 || int64(buf.Len()) <= maxBytes {
			break
		}
	}

	name := strings.TrimSuffix(a.Name, path.Ext(a.Name)) + ".jpg"
	out := *a
	out.Data = buf.Bytes()
	out.MIME = "image/jpeg"
	out.Ext = "jpg"
	out.Name = name
	out.Width, out.Height = cw, ch
	return &out, true, nil
}
