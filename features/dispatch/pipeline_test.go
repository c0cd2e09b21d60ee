package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balaji119/local-mail-forwarder-graph/features/ingest"
	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
)

type fakeAcker struct {
	marked []string
	err    error
}

func (f *fakeAcker) MarkRead(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, id)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func testJob(t *testing.T, messageID string) *queue.Job {
	t.Helper()
	payload := ingest.QuotePayload{
		MessageID: messageID,
		From:      "buyer@corp.com",
		Subject:   "RFQ",
		Text:      "quote 1000 pcs",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	id := messageID
	if id == "" {
		id = "smtp-job-1"
	}
	return &queue.Job{ID: id, Payload: body}
}

func ackHandler(t *testing.T, ack Ack, gotBody *[]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if gotBody != nil {
			*gotBody = b
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(ack))
	}
}

func TestPipeline_Deliver(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(ackHandler(t, Ack{Replied: true}, &gotBody))
	defer srv.Close()

	acker := &fakeAcker{}
	p := NewPipeline(srv.Client(), srv.URL, acker, testLogger())

	out := p.Deliver(context.Background(), testJob(t, "msg-1"))
	assert.Equal(t, OutcomeSuccess, out.Kind)

	var payload ingest.QuotePayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "buyer@corp.com", payload.From)

	assert.Equal(t, []string{"msg-1"}, acker.marked, "origin message acknowledged after delivery")
}

func TestPipeline_Deliver_SMTPJobSkipsMarkRead(t *testing.T) {
	srv := httptest.NewServer(ackHandler(t, Ack{Replied: true}, nil))
	defer srv.Close()

	acker := &fakeAcker{}
	p := NewPipeline(srv.Client(), srv.URL, acker, testLogger())

	out := p.Deliver(context.Background(), testJob(t, ""))
	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Empty(t, acker.marked)
}

func TestPipeline_Deliver_WebhookDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	p := NewPipeline(nil, srv.URL, nil, testLogger())
	out := p.Deliver(context.Background(), testJob(t, "msg-1"))

	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Contains(t, out.Reason, "webhook post")
}

func TestPipeline_Deliver_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "downstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPipeline(srv.Client(), srv.URL, nil, testLogger())
	out := p.Deliver(context.Background(), testJob(t, "msg-1"))

	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Contains(t, out.Reason, "503")
	assert.Contains(t, out.Reason, "downstream overloaded")
}

func TestPipeline_Deliver_RefusedAck(t *testing.T) {
	srv := httptest.NewServer(ackHandler(t, Ack{Replied: false, Reason: "pricing rejected the quote"}, nil))
	defer srv.Close()

	acker := &fakeAcker{}
	p := NewPipeline(srv.Client(), srv.URL, acker, testLogger())
	out := p.Deliver(context.Background(), testJob(t, "msg-1"))

	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Contains(t, out.Reason, "pricing rejected the quote")
	assert.Empty(t, acker.marked, "a refused delivery must leave the message unread")
}

func TestPipeline_Deliver_MalformedAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	p := NewPipeline(srv.Client(), srv.URL, nil, testLogger())
	out := p.Deliver(context.Background(), testJob(t, "msg-1"))

	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Contains(t, out.Reason, "malformed ack")
}

func TestPipeline_Deliver_MarkReadFailureRetries(t *testing.T) {
	srv := httptest.NewServer(ackHandler(t, Ack{Replied: true}, nil))
	defer srv.Close()

	acker := &fakeAcker{err: errors.New("graph api 503")}
	p := NewPipeline(srv.Client(), srv.URL, acker, testLogger())
	out := p.Deliver(context.Background(), testJob(t, "msg-1"))

	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Contains(t, out.Reason, "mark read")
}

func TestPipeline_Deliver_BadPayloadIsTerminal(t *testing.T) {
	srv := httptest.NewServer(ackHandler(t, Ack{Replied: true}, nil))
	defer srv.Close()

	p := NewPipeline(srv.Client(), srv.URL, nil, testLogger())
	out := p.Deliver(context.Background(), &queue.Job{ID: "broken", Payload: json.RawMessage("{not json")})

	assert.Equal(t, OutcomeTerminal, out.Kind)
}
