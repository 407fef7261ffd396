package callback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/config"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type request struct {
	at     time.Time
	header http.Header
	body   []byte
}

// receiver records callback requests and answers with the queued statuses,
// then 200.
type receiver struct {
	mu       sync.Mutex
	statuses []int
	requests []request
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	rc.mu.Lock()
	rc.requests = append(rc.requests, request{at: time.Now(), header: r.Header.Clone(), body: body})
	status := http.StatusOK
	if len(rc.statuses) > 0 {
		status, rc.statuses = rc.statuses[0], rc.statuses[1:]
	}
	rc.mu.Unlock()

	w.WriteHeader(status)
}

func (rc *receiver) calls() []request {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]request(nil), rc.requests...)
}

func newReporter(delay time.Duration) *Reporter {
	return New(config.Callback{Secret: "s3cret", Timeout: time.Second, RetryDelay: delay})
}

func TestReportDelivers(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	r := newReporter(10 * time.Millisecond)
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }

	ok, err := r.Report(context.Background(), srv.URL+"/api/jobs/job-42/callback", Payload{
		Idx:        3,
		Status:     "completed",
		OutputKey:  "out/3.png",
		PreviewKey: "prev/3.jpg",
	}, "")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := rc.calls()
	require.Len(t, calls, 1)

	h := calls[0].header
	assert.Equal(t, "s3cret", h.Get(DefaultSecretHeader))
	assert.Equal(t, IdempotencyKey("job-42", 3, 1, now), h.Get(IdempotencyHeader))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.JSONEq(t, `{"idx":3,"status":"completed","output_key":"out/3.png","preview_key":"prev/3.jpg"}`, string(calls[0].body))
}

func TestReportOmitsEmptyFields(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	ok, err := newReporter(time.Millisecond).Report(context.Background(), srv.URL+"/jobs/j/callback",
		Payload{Idx: 0, Status: "failed", Error: "failed to process item 0: boom"}, "fixed-key")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := rc.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "fixed-key", calls[0].header.Get(IdempotencyHeader))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(calls[0].body, &fields))
	assert.NotContains(t, fields, "output_key")
	assert.NotContains(t, fields, "preview_key")
	assert.Equal(t, "failed", fields["status"])
	assert.EqualValues(t, 0, fields["idx"])
}

func TestReportRetriesOnceAfterDelay(t *testing.T) {
	rc := &receiver{statuses: []int{http.StatusServiceUnavailable}}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	delay := 50 * time.Millisecond
	ok, err := newReporter(delay).Report(context.Background(), srv.URL+"/jobs/j/callback", Payload{Status: "completed"}, "")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := rc.calls()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), delay)
	assert.Equal(t, calls[0].header.Get(IdempotencyHeader), calls[1].header.Get(IdempotencyHeader))
}

func TestReportGivesUpAfterSecondFailure(t *testing.T) {
	rc := &receiver{statuses: []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusBadGateway}}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	ok, err := newReporter(time.Millisecond).Report(context.Background(), srv.URL+"/jobs/j/callback", Payload{Status: "failed"}, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, rc.calls(), 2)
}

func TestReportDoesNotWaitAfterLastAttempt(t *testing.T) {
	rc := &receiver{statuses: []int{http.StatusBadGateway, http.StatusBadGateway}}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	delay := 200 * time.Millisecond
	start := time.Now()
	ok, err := newReporter(delay).Report(context.Background(), srv.URL+"/jobs/j/callback", Payload{Status: "failed"}, "")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, rc.calls(), 2)
	assert.GreaterOrEqual(t, elapsed, delay)
	assert.Less(t, elapsed, 2*delay)
}

func TestReportUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ok, err := newReporter(time.Millisecond).Report(context.Background(), url+"/jobs/j/callback", Payload{}, "")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReportMalformedURL(t *testing.T) {
	ok, err := newReporter(time.Millisecond).Report(context.Background(), "https://api.example.com/callbacks", Payload{}, "")
	assert.ErrorIs(t, err, ErrMalformedURL)
	assert.False(t, ok)
}

func TestJobIDFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://api.example.com/jobs/abc-123/callback", want: "abc-123"},
		{url: "https://api.example.com/v1/jobs/abc/callback/", want: "abc"},
		{url: "http://host/jobs/abc/callback?sig=1", want: "abc"},
		{url: "https://api.example.com/jobs//callback", wantErr: true},
		{url: "https://api.example.com/jobs/abc/result", wantErr: true},
		{url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := JobIDFromURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	base := time.Unix(1_700_000_040, 0) // start of a minute window

	key := IdempotencyKey("job", 1, 1, base)
	assert.Len(t, key, 16)

	sum := sha256.Sum256([]byte("job:1:1:28333334"))
	assert.Equal(t, hex.EncodeToString(sum[:])[:16], key)

	assert.Equal(t, key, IdempotencyKey("job", 1, 1, base.Add(59*time.Second)))
	assert.NotEqual(t, key, IdempotencyKey("job", 1, 1, base.Add(60*time.Second)))
	assert.NotEqual(t, key, IdempotencyKey("job", 2, 1, base))
	assert.NotEqual(t, key, IdempotencyKey("job", 1, 2, base))
	assert.NotEqual(t, key, IdempotencyKey("other", 1, 1, base))
}
