// Package callback reports per-item results of a job to the HTTP endpoint
// that submitted it.
package callback

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/config"
)

// Header names sent with every callback.
const (
	DefaultSecretHeader = "X-GPU-Callback-Secret"
	IdempotencyHeader   = "X-Idempotency-Key"
)

const (
	keyLength     = 16
	keyWindowSecs = 60
)

// ErrMalformedURL is returned when the job id cannot be read from the callback URL.
var ErrMalformedURL = errors.New("malformed callback url")

var jobPath = regexp.MustCompile(`/jobs/([^/]+)/callback/?$`)

// Payload is the JSON body of a callback. Empty optional fields are omitted.
type Payload struct {
	Idx        int    `json:"idx"`
	Status     string `json:"status"`
	OutputKey  string `json:"output_key,omitempty"`
	PreviewKey string `json:"preview_key,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Reporter posts item results with a shared secret and an idempotency key.
// A failed post is retried once after a fixed delay.
type Reporter struct {
	client       *http.Client
	secret       string
	secretHeader string
	strategy     retry.Strategy
	now          func() time.Time
}

// New creates a Reporter from the callback configuration.
func New(cfg config.Callback) *Reporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	header := cfg.SecretHeader
	if header == "" {
		header = DefaultSecretHeader
	}

	return &Reporter{
		client:       &http.Client{Timeout: timeout},
		secret:       cfg.Secret,
		secretHeader: header,
		strategy:     retry.Strategy{Attempts: 2, Delay: delay, Backoff: 1},
		now:          time.Now,
	}
}

// Report delivers p to callbackURL.
//
// When idempotencyKey is empty a key is derived from the job id, the item
// index and the current minute. It returns false when delivery failed after
// the retry; the only error is ErrMalformedURL, since a URL without a job id
// is a configuration problem rather than a delivery failure.
func (r *Reporter) Report(ctx context.Context, callbackURL string, p Payload, idempotencyKey string) (bool, error) {
	jobID, err := JobIDFromURL(callbackURL)
	if err != nil {
		return false, err
	}

	if idempotencyKey == "" {
		idempotencyKey = IdempotencyKey(jobID, p.Idx, 1, r.now())
	}

	body, err := json.Marshal(p)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", jobID).Int("idx", p.Idx).Msg("failed to marshal callback payload")
		return false, nil
	}

	// retry.Do sleeps after a failed last attempt too; end without the wait.
	var lastErr error
	attempt := 0
	err = retry.Do(func() error {
		attempt++
		postErr := r.post(ctx, callbackURL, body, idempotencyKey)
		if postErr != nil && attempt >= r.strategy.Attempts {
			lastErr = postErr
			return nil
		}
		return postErr
	}, r.strategy)
	if err == nil {
		err = lastErr
	}
	if err != nil {
		zlog.Logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Int("idx", p.Idx).
			Int("attempts", attempt).
			Msg("callback failed")
		return false, nil
	}

	zlog.Logger.Debug().
		Str("job_id", jobID).
		Int("idx", p.Idx).
		Str("status", p.Status).
		Msg("callback delivered")

	return true, nil
}

func (r *Reporter) post(ctx context.Context, callbackURL string, body []byte, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(r.secretHeader, r.secret)
	req.Header.Set(IdempotencyHeader, key)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post callback: unexpected status %d", resp.StatusCode)
	}

	return nil
}

// JobIDFromURL extracts {jobId} from a ".../jobs/{jobId}/callback" URL.
func JobIDFromURL(callbackURL string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedURL, callbackURL, err)
	}

	m := jobPath.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("%w: cannot extract job id from %q", ErrMalformedURL, callbackURL)
	}

	return m[1], nil
}

// IdempotencyKey derives a short deterministic key for one delivery attempt.
// Calls within the same minute window yield the same key.
func IdempotencyKey(jobID string, idx, attempt int, now time.Time) string {
	window := now.Unix() / keyWindowSecs
	if now.Unix() < 0 && now.Unix()%keyWindowSecs != 0 {
		window--
	}

	raw := jobID + ":" + strconv.Itoa(idx) + ":" + strconv.Itoa(attempt) + ":" + strconv.FormatInt(window, 10)
	sum := sha256.Sum256([]byte(raw))

	return hex.EncodeToString(sum[:])[:keyLength]
}
