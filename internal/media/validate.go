package media

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// ValidateImage checks that the asset decodes as an image of an allowed
// type and fits the byte cap. Aspect ratio is not checked here; see
// FitAspect.
func ValidateImage(a *Asset, c Constraints) error {
	if a.Width <= 0 || a.Height <= 0 {
		return invalid(a.Ref, "file is not a decodable image")
	}
	if len(c.ImageMIMEs) > 0 && !slices.Contains(c.ImageMIMEs, a.MIME) {
		return invalid(a.Ref, "unsupported image type %q", a.MIME)
	}
	if a.Size() == 0 {
		return invalid(a.Ref, "image is empty")
	}
	if c.MaxImageBytes > 0 && a.Size() > c.MaxImageBytes {
		return invalid(a.Ref, "image is %d bytes, limit is %d", a.Size(), c.MaxImageBytes)
	}
	return nil
}

// ValidateVideo checks extension and size, then duration when a probe is
// available. A failing or missing probe never rejects the video.
func (r *Resolver) ValidateVideo(ctx context.Context, a *Asset, c Constraints) error {
	ext := strings.ToLower(a.Ext)
	if len(c.VideoExtensions) > 0 && !slices.Contains(c.VideoExtensions, ext) {
		return invalid(a.Ref, "unsupported video extension %q", ext)
	}
	if a.Size() == 0 {
		return invalid(a.Ref, "video is empty")
	}
	if c.MaxVideoBytes > 0 && a.Size() > c.MaxVideoBytes {
		return invalid(a.Ref, "video is %d bytes, limit is %d", a.Size(), c.MaxVideoBytes)
	}

	if r.probe == nil || c.MaxVideoDuration <= 0 {
		return nil
	}
	if a.Duration == nil {
		res, err := r.probe.Probe(ctx, a)
		if err != nil {
			slog.Warn("video probe failed, skipping duration check", "ref", a.Ref, "error", err)
			return nil
		}
		a.Duration = res.Duration
		if res.Width > 0 && res.Height > 0 {
			a.Width, a.Height = res.Width, res.Height
		}
	}
	if a.Duration != nil && *a.Duration > c.MaxVideoDuration {
		return invalid(a.Ref, "video is %s long, limit is %s", a.Duration.Round(100_000_000), c.MaxVideoDuration)
	}
	return nil
}

// Validate dispatches on the asset's media class.
func (r *Resolver) Validate(ctx context.Context, a *Asset, c Constraints) error {
	if a.IsVideo() {
		return r.ValidateVideo(ctx, a, c)
	}
	return ValidateImage(a, c)
}
