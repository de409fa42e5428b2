// Package notify delivers stored captures to a Discord-compatible webhook
// as a multipart file upload. Delivery is attempted once and never raises:
// every outcome is reported as a Result.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/RaspiCam/internal/debug"
	"github.com/cjeanneret/RaspiCam/internal/store"
)

const (
	// DefaultTimeout bounds a single delivery.
	DefaultTimeout = 10 * time.Second

	maxBodyLog = 4 << 10
)

// Result is the outcome of one delivery attempt.
type Result struct {
	Skipped    bool // no endpoint configured
	Delivered  bool
	StatusCode int
	Body       string // response body (truncated) on non-2xx
	Err        error
	Duration   time.Duration
}

// OK reports whether the attempt did not fail. Skipped counts as OK.
func (r Result) OK() bool { return r.Err == nil }

func (r Result) String() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Delivered:
		return fmt.Sprintf("delivered (%d)", r.StatusCode)
	default:
		return fmt.Sprintf("failed: %v", r.Err)
	}
}

// Webhook posts images to a single endpoint URL.
type Webhook struct {
	endpoint string
	client   *http.Client
}

// NewWebhook returns a notifier for endpoint. An empty endpoint yields a
// notifier whose Send is a no-op. timeout <= 0 uses DefaultTimeout.
func NewWebhook(endpoint string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an endpoint is configured.
func (w *Webhook) Enabled() bool { return w.endpoint != "" }

// Send uploads image with caption. It never panics or returns an error
// value; failures are logged and carried in the Result.
func (w *Webhook) Send(ctx context.Context, image store.StoredImage, caption string) Result {
	if w.endpoint == "" {
		debug.Info("No webhook URL provided... Skipping notification.")
		return Result{Skipped: true}
	}

	start := time.Now()
	res := w.send(ctx, image, caption)
	res.Duration = time.Since(start)

	log := debug.Logger()
	if res.Err != nil {
		ev := log.Error().Err(res.Err).Str("image", image.Name).Dur("elapsed", res.Duration)
		if res.StatusCode != 0 {
			ev = ev.Int("status", res.StatusCode).Str("body", res.Body)
		}
		ev.Msg("webhook notification failed")
		return res
	}
	log.Info().Str("image", image.Name).Int("status", res.StatusCode).Dur("elapsed", res.Duration).Msg("webhook notification sent")
	return res
}

func (w *Webhook) send(ctx context.Context, image store.StoredImage, caption string) Result {
	body, contentType, err := buildForm(image, caption)
	if err != nil {
		return Result{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, body)
	if err != nil {
		return Result{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("post webhook: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
		return Result{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			Err:        fmt.Errorf("webhook returned %s", resp.Status),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return Result{Delivered: true, StatusCode: resp.StatusCode}
}

// buildForm assembles the multipart body: a "content" text field and a
// "file" part declared as image/jpeg.
func buildForm(image store.StoredImage, caption string) (*bytes.Buffer, string, error) {
	f, err := os.Open(image.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	if err := mw.WriteField("content", caption); err != nil {
		return nil, "", fmt.Errorf("write content field: %w", err)
	}

	filename := filepath.Base(image.Path)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}
