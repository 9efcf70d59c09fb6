package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// ProbeResult holds whatever a probe could measure. Nil or zero fields are
// unknown.
type ProbeResult struct {
	Duration *time.Duration
	Width    int
	Height   int
}

type MediaProbe interface {
	Probe(ctx context.Context, a *Asset) (ProbeResult, error)
}

// FFProbe shells out to ffprobe.
type FFProbe struct {
	bin     string
	timeout time.Duration
}

// NewFFProbe returns nil and false when ffprobe is not on PATH.
func NewFFProbe() (*FFProbe, bool) {
	bin, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, false
	}
	return &FFProbe{bin: bin, timeout: 15 * time.Second}, true
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

func (p *FFProbe) Probe(ctx context.Context, a *Asset) (ProbeResult, error) {
	f, err := os.CreateTemp("", "probe-*."+a.Ext)
	if err != nil {
		return ProbeResult{}, err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		return ProbeResult{}, err
	}
	if err := f.Close(); err != nil {
		return ProbeResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration:stream=width,height",
		"-of", "json",
		f.Name(),
	).Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseFFProbe(out)
}

func parseFFProbe(out []byte) (ProbeResult, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe output: %w", err)
	}
	var res ProbeResult
	if secs, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil && secs > 0 {
		d := time.Duration(secs * float64(time.Second))
		res.Duration = &d
	}
	if len(parsed.Streams) > 0 {
		res.Width, res.Height = parsed.Streams[0].Width, parsed.Streams[0].Height
	}
	if res.Duration == nil && res.Width == 0 {
		return res, errors.New("ffprobe reported nothing")
	}
	return res, nil
}
