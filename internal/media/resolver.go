// Package media finds post media in storage, checks it against platform
// limits and produces URLs platforms can fetch.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/crosspost/internal/storage"
	_ "golang.org/x/image/webp"
)

// MaxRemoteBytes caps downloads of media referenced by absolute URL.
const MaxRemoteBytes = 1 << 30

// ErrBlockedHost is returned when a remote reference points at a loopback,
// private or link-local address.
var ErrBlockedHost = errors.New("media host is not publicly routable")

type Resolver struct {
	store       storage.Storage
	roots       []string
	probe       MediaProbe
	client      *http.Client
	tmpPrefix   string
	denyPrivate bool
}

type Option func(*Resolver)

// WithProbe enables duration and dimension refinement for videos.
func WithProbe(p MediaProbe) Option {
	return func(r *Resolver) { r.probe = p }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

func WithTmpPrefix(prefix string) Option {
	return func(r *Resolver) { r.tmpPrefix = strings.Trim(prefix, "/") }
}

// DenyPrivateHosts refuses to download from loopback, private, link-local
// and unspecified addresses. The check runs on every dialled address, so
// redirects and DNS answers are covered too. It replaces the transport of
// the configured client.
func DenyPrivateHosts() Option {
	return func(r *Resolver) { r.denyPrivate = true }
}

// NewResolver looks references up below each root in order. An empty root
// means the reference is used as is.
func NewResolver(store storage.Storage, roots []string, opts ...Option) *Resolver {
	if len(roots) == 0 {
		roots = []string{""}
	}
	r := &Resolver{
		store:     store,
		roots:     roots,
		client:    &http.Client{Timeout: 60 * time.Second},
		tmpPrefix: "tmp",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.denyPrivate {
		r.client = guardClient(r.client)
	}
	return r
}

func guardClient(c *http.Client) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second, Control: checkDialAddr}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	guarded := *c
	guarded.Transport = transport
	return &guarded
}

func checkDialAddr(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !publicIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	return nil
}

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}

// remoteLimit is the largest file any platform accepts for the kind.
func remoteLimit(kind Kind) int64 {
	var limit int64
	for _, c := range []Constraints{FacebookConstraints, InstagramConstraints, TelegramConstraints, YouTubeConstraints} {
		n := c.MaxImageBytes
		if kind == KindVideo {
			n = c.MaxVideoBytes
		}
		limit = max(limit, n)
	}
	if limit <= 0 || limit > MaxRemoteBytes {
		limit = MaxRemoteBytes
	}
	return limit
}

func (r *Resolver) Store() storage.Storage { return r.store }

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func normalizeRef(ref string) string {
	ref = strings.TrimLeft(strings.TrimSpace(ref), "/")
	return strings.TrimPrefix(ref, "storage/")
}

// Resolve maps a logical reference to a storage key. The first existing
// candidate wins; when none exists the last candidate is returned with
// Exists=false and callers must check it. URLs under the store's public
// base resolve to their key; other URLs are left remote.
func (r *Resolver) Resolve(ctx context.Context, ref string) (Location, error) {
	if isRemote(ref) {
		key, ok := storage.KeyFromURL(r.store, ref)
		if !ok {
			return Location{Ref: ref, Key: ref, Exists: true, Remote: true}, nil
		}
		exists, err := r.store.Exists(ctx, key)
		if err != nil {
			return Location{}, fmt.Errorf("check %s: %w", key, err)
		}
		return Location{Ref: ref, Key: key, Exists: exists}, nil
	}
	rel := normalizeRef(ref)
	if rel == "" {
		return Location{}, invalid(ref, "empty media reference")
	}

	var key string
	for _, root := range r.roots {
		key = path.Join(root, rel)
		ok, err := r.store.Exists(ctx, key)
		if err != nil {
			return Location{}, fmt.Errorf("check %s: %w", key, err)
		}
		if ok {
			return Location{Ref: ref, Key: key, Exists: true}, nil
		}
	}
	return Location{Ref: ref, Key: key}, nil
}

// Load resolves and reads a reference and sniffs its type. Image dimensions
// are filled in when the header decodes.
func (r *Resolver) Load(ctx context.Context, ref string, kind Kind) (*Asset, error) {
	loc, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !loc.Exists {
		return nil, invalid(ref, "media file not found")
	}

	var data []byte
	if loc.Remote {
		data, err = r.fetch(ctx, ref, remoteLimit(kind))
	} else {
		data, err = r.store.Read(ctx, loc.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}

	a := &Asset{
		Ref:    ref,
		Key:    loc.Key,
		Remote: loc.Remote,
		Kind:   kind,
		Name:   path.Base(strings.SplitN(loc.Key, "?", 2)[0]),
		Data:   data,
		Ext:    extOf(loc.Key),
	}
	if t, err := filetype.Match(data); err == nil && t != types.Unknown {
		a.MIME = t.MIME.Value
		if a.Ext == "" {
			a.Ext = t.Extension
		}
	}
	if strings.HasPrefix(a.MIME, "image/") {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			a.Width, a.Height = cfg.Width, cfg.Height
		}
	}
	return a, nil
}

func (r *Resolver) fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if errors.Is(err, ErrBlockedHost) {
		return nil, invalid(url, "%v", ErrBlockedHost)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	if resp.ContentLength > limit {
		return nil, invalid(url, "remote media exceeds %d bytes", limit)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, invalid(url, "remote media exceeds %d bytes", limit)
	}
	return data, nil
}

// PublicURL is the durable URL of an asset already in storage.
func (r *Resolver) PublicURL(a *Asset) string {
	if a.Remote {
		return a.Ref
	}
	return r.store.PublicURL(a.Key)
}

// LoadAll loads photos then videos, preserving order.
func (r *Resolver) LoadAll(ctx context.Context, photos, videos []string) ([]*Asset, error) {
	assets := make([]*Asset, 0, len(photos)+len(videos))
	for _, ref := range photos {
		a, err := r.Load(ctx, ref, KindPhoto)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	for _, ref := range videos {
		a, err := r.Load(ctx, ref, KindVideo)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	slog.Debug("media loaded", "count", len(assets))
	return assets, nil
}
