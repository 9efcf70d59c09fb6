package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxResponseBytes caps how much of a platform response is kept.
const maxResponseBytes = 1 << 20

// Client is the HTTP transport shared by adapters. Network errors and 5xx
// answers are retried with a constant delay; 4xx answers are returned at
// once as *RejectionError.
type Client struct {
	http     *http.Client
	attempts int
	delay    time.Duration
}

func NewClient(timeout time.Duration, attempts int, delay time.Duration) *Client {
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		attempts: attempts,
		delay:    delay,
	}
}

// HTTPClient exposes the underlying client for SDKs that bring their own
// request handling.
func (c *Client) HTTPClient() *http.Client { return c.http }

// File is one multipart file part.
type File struct {
	Field string
	Name  string
	Data  []byte
}

func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
}

func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	encoded := form.Encode()
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

func (c *Client) PostMultipart(ctx context.Context, endpoint string, fields map[string]string, files []File) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	payload := body.Bytes()
	contentType := w.FormDataContentType()

	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var (
		body       []byte
		lastStatus int
	)
	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastStatus = 0
			slog.Debug("platform request failed", "url", redact(req.URL), "error", err)
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		lastStatus = resp.StatusCode
		switch {
		case resp.StatusCode >= 500:
			slog.Debug("platform server error", "url", redact(req.URL), "status", resp.StatusCode)
			return fmt.Errorf("%s", strings.TrimSpace(string(body)))
		case resp.StatusCode >= 400:
			return backoff.Permanent(&RejectionError{Status: resp.StatusCode, Body: string(body)})
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), uint64(c.attempts-1)), ctx)
	err := backoff.Retry(operation, policy)
	if err == nil {
		return body, nil
	}

	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return body, err
	}
	return body, &TransientError{Status: lastStatus, Err: err}
}

// decode unmarshals a JSON response into v.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unexpected platform response %q: %w", truncateBody(body), err)
	}
	return nil
}

func truncateBody(body []byte) string {
	if len(body) > 256 {
		return string(body[:256]) + "..."
	}
	return string(body)
}

// redact strips the query and bot tokens in the path so credentials never
// reach the logs.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.RawQuery = ""
	segments := strings.Split(c.Path, "/")
	for i, s := range segments {
		if strings.HasPrefix(s, "bot") && strings.Contains(s, ":") {
			segments[i] = "bot***"
		}
	}
	c.Path = strings.Join(segments, "/")
	c.RawPath = ""
	return c.String()
}
