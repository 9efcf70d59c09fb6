// Package storage is the object store media is read from and published
// through. Keys are slash separated and relative to the store root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
)

var ErrNotFound = errors.New("object not found")

type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

type Storage interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	PublicURL(key string) string
}

// New picks the backend named by cfg.Driver.
func New(ctx context.Context, cfg config.Storage) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.LocalRoot, cfg.PublicBaseURL)
	case "r2":
		return NewR2(ctx, cfg.R2, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// CleanKey normalises a key and rejects keys that climb out of the root.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	parts := strings.Split(key, "/")
	out := parts[:0]
	for _, p := range parts {
		switch p {
		case "", ".":
		case "..":
			return "", fmt.Errorf("invalid storage key %q", key)
		default:
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "", fmt.Errorf("empty storage key")
	}
	return strings.Join(out, "/"), nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// KeyFromURL maps a URL under the store's public base back to its key.
func KeyFromURL(s Storage, ref string) (string, bool) {
	base := s.PublicURL("")
	if base == "/" || !strings.HasPrefix(ref, base) {
		return "", false
	}
	rest, _, _ := strings.Cut(strings.TrimPrefix(ref, base), "?")
	rest, _, _ = strings.Cut(rest, "#")
	rest, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	key, err := CleanKey(rest)
	if err != nil {
		return "", false
	}
	return key, true
}
