package media

import "time"

type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Constraints are the per platform media limits checked before upload.
// Zero values disable the corresponding check.
type Constraints struct {
	MaxImageBytes    int64
	MaxVideoBytes    int64
	ImageMIMEs       []string
	VideoExtensions  []string
	MaxVideoDuration time.Duration
	MinAspect        float64
	MaxAspect        float64
}

var defaultImageMIMEs = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var (
	FacebookConstraints = Constraints{
		MaxImageBytes:   4_000_000,
		MaxVideoBytes:   1_000_000_000,
		ImageMIMEs:      defaultImageMIMEs,
		VideoExtensions: []string{"mp4", "avi", "mov", "webm"},
	}
	InstagramConstraints = Constraints{
		MaxImageBytes:    8_000_000,
		MaxVideoBytes:    100_000_000,
		ImageMIMEs:       []string{"image/jpeg", "image/png"},
		VideoExtensions:  []string{"mp4", "mov", "webm"},
		MaxVideoDuration: 60 * time.Second,
		MinAspect:        0.8,
		MaxAspect:        1.91,
	}
	TelegramConstraints = Constraints{
		MaxImageBytes:   10_000_000,
		MaxVideoBytes:   50_000_000,
		ImageMIMEs:      defaultImageMIMEs,
		VideoExtensions: []string{"mp4", "avi", "mov", "webm"},
	}
	YouTubeConstraints = Constraints{
		MaxVideoBytes:   2_000_000_000,
		VideoExtensions: []string{"mp4", "avi", "mov", "webm", "mkv"},
	}
)
