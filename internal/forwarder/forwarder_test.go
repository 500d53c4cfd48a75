package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CermakM/osiris-build-observer/internal/event"
	"github.com/CermakM/osiris-build-observer/internal/retry"
)

type recordingSender struct {
	calls    int
	requests []*retry.Request
	resp     *retry.Response
	err      error
}

func (s *recordingSender) Send(ctx context.Context, req *retry.Request, timeout time.Duration) (*retry.Response, error) {
	s.calls++
	s.requests = append(s.requests, req)
	return s.resp, s.err
}

func projection(completed bool) event.BuildProjection {
	reason := event.ReasonBuildStarted
	if completed {
		reason = event.ReasonBuildCompleted
	}
	return event.BuildProjection{
		Namespace:      "ns1",
		BuildName:      "build-1",
		SelfLink:       "/b/1",
		Reason:         reason,
		Completed:      completed,
		FirstTimestamp: time.Unix(100, 0).UTC(),
		LastTimestamp:  time.Unix(100, 0).UTC(),
		ObservedAt:     time.Unix(123, 0).UTC(),
	}
}

func TestEndpointFor(t *testing.T) {
	assert.Equal(t, StartedPath, EndpointFor(projection(false)))
	assert.Equal(t, CompletedPath, EndpointFor(projection(true)))
}

func TestForwardStarted(t *testing.T) {
	var got event.BuildProjection
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, StartedPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get(DeliveryIDHeader))
		require.NoError(t, json.Unmarshal(readBody(t, r), &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := retry.NewClient(server.Client(), retry.DefaultPolicy(), noopLogger())
	f := New(sender, Config{BaseURL: server.URL}, noopLogger())

	result, err := f.Forward(context.Background(), projection(false))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
	assert.Equal(t, 0, result.Retries)
	assert.Equal(t, StartedPath, result.Endpoint)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, projection(false), got)
}

func TestForwardCompletedGzip(t *testing.T) {
	var path, encoding string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		encoding = r.Header.Get("Content-Encoding")
		var got event.BuildProjection
		require.NoError(t, json.Unmarshal(readBody(t, r), &got))
		assert.True(t, got.Completed)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := retry.NewClient(server.Client(), retry.DefaultPolicy(), noopLogger())
	f := New(sender, Config{BaseURL: server.URL, Gzip: true}, noopLogger())

	_, err := f.Forward(context.Background(), projection(true))
	require.NoError(t, err)
	assert.Equal(t, CompletedPath, path)
	assert.Equal(t, "gzip", encoding)
}

func TestForwardDryRunNeverSends(t *testing.T) {
	sender := &recordingSender{}
	dry := New(sender, Config{BaseURL: "http://osiris:5000", DryRun: true}, noopLogger())
	live := New(sender, Config{BaseURL: "http://osiris:5000"}, noopLogger())

	result, err := dry.Forward(context.Background(), projection(false))
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, "http://osiris:5000/build/started", result.URL)
	assert.Equal(t, 0, sender.calls)

	dryReq, err := dry.NewRequest(projection(false))
	require.NoError(t, err)
	liveReq, err := live.NewRequest(projection(false))
	require.NoError(t, err)
	assert.Equal(t, liveReq, dryReq)
}

func TestForwardRejectedStatus(t *testing.T) {
	sender := &recordingSender{resp: &retry.Response{StatusCode: http.StatusOK, Status: "200 OK"}}
	f := New(sender, Config{BaseURL: "http://osiris:5000"}, noopLogger())

	result, err := f.Forward(context.Background(), projection(true))
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusOK, de.StatusCode)
	assert.Equal(t, CompletedPath, de.Endpoint)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, DefaultTimeout, f.timeout)
}

func TestForwardTransportFailure(t *testing.T) {
	tf := &retry.TransportFailure{Method: http.MethodPut, URL: "http://osiris:5000/build/started", Retries: 10, LastStatus: http.StatusBadGateway}
	sender := &recordingSender{err: tf}
	f := New(sender, Config{BaseURL: "http://osiris:5000"}, noopLogger())

	result, err := f.Forward(context.Background(), projection(false))
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.True(t, retry.IsTransportFailure(err))
	assert.Equal(t, 10, result.Retries)
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func TestDeliveryIDStable(t *testing.T) {
	p := projection(false)
	other := p
	other.ObservedAt = p.ObservedAt.Add(time.Hour)
	assert.Equal(t, DeliveryID(p), DeliveryID(other))
	assert.NotEqual(t, DeliveryID(p), DeliveryID(projection(true)))
}

func readBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		defer zr.Close()
		reader = zr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return data
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewNilLogger(t *testing.T) {
	f := New(&recordingSender{}, Config{BaseURL: "http://osiris:5000", DryRun: true}, nil)
	require.NotNil(t, f.logger)

	_, err := f.Forward(context.Background(), projection(false))
	assert.NoError(t, err)
}
