package media

import (
	"path"
	"strings"
	"time"
)

// Location is where a media reference was found.
type Location struct {
	Ref    string
	Key    string
	Exists bool
	Remote bool
}

// Asset is a loaded media file.
type Asset struct {
	Ref    string
	Key    string
	Remote bool
	Kind   Kind
	Name   string
	MIME   string
	Ext    string
	Data   []byte
	Width  int
	Height int
	// Duration is set when a probe measured the video.
	Duration *time.Duration
}

func (a *Asset) Size() int64 { return int64(len(a.Data)) }

// IsVideo decides by MIME first and falls back to the extension.
func (a *Asset) IsVideo() bool {
	if strings.HasPrefix(a.MIME, "video/") {
		return true
	}
	if strings.HasPrefix(a.MIME, "image/") {
		return false
	}
	return a.Kind == KindVideo
}

func extOf(name string) string {
	name = strings.SplitN(name, "?", 2)[0]
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}
