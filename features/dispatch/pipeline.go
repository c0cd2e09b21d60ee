// Package dispatch owns the claim loop and the delivery pipeline: claimed
// jobs are posted to the downstream webhook, acknowledged against the remote
// mailbox, and only then marked done and removed from the table.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/balaji119/local-mail-forwarder-graph/features/ingest"
	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
)

// OutcomeKind classifies a single delivery attempt.
type OutcomeKind int

const (
	// OutcomeSuccess means the downstream acknowledged the job and every
	// follow-up side effect completed. The job may be marked done.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetry means the attempt failed in a way a later attempt could
	// fix: transport failure, non-2xx status, refused or malformed ack, or
	// a mark-read failure after a good ack.
	OutcomeRetry
	// OutcomeTerminal means no future attempt can succeed, such as a
	// payload that no longer unmarshals. The job moves to the error state.
	OutcomeTerminal
)

type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func retry(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeRetry, Reason: fmt.Sprintf(format, args...)}
}

func terminal(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeTerminal, Reason: fmt.Sprintf(format, args...)}
}

// Ack is the body the webhook must return. A missing or false replied flag
// counts as a refusal, not a success; the downstream has to say so
// explicitly before the origin message is considered handled.
type Ack struct {
	Replied bool   `json:"replied"`
	Reason  string `json:"reason,omitempty"`
}

// MailAcker marks the origin message read after a confirmed delivery. Nil
// when the deployment has no remote mailbox.
type MailAcker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// Pipeline delivers one job. It has no queue state transitions of its own;
// the dispatcher translates the Outcome into a row update.
type Pipeline struct {
	client     *http.Client
	webhookURL string
	mail       MailAcker
	logger     *slog.Logger
}

func NewPipeline(client *http.Client, webhookURL string, mail MailAcker, logger *slog.Logger) *Pipeline {
	if client == nil {
		client = http.DefaultClient
	}
	return &Pipeline{
		client:     client,
		webhookURL: webhookURL,
		mail:       mail,
		logger:     logger,
	}
}

// Deliver posts the payload to the webhook, requires an explicit replied
// ack, then marks the origin message read. The mark-read step runs before
// the job can be considered done, so a crash between ack and mark-read
// leaves the message unread and the job claimable again; the downstream
// must tolerate redelivery.
func (p *Pipeline) Deliver(ctx context.Context, job *queue.Job) Outcome {
	var payload ingest.QuotePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return terminal("payload unmarshal: %v", err)
	}

	ack, out := p.post(ctx, job)
	if out.Kind != OutcomeSuccess {
		return out
	}
	if !ack.Replied {
		reason := ack.Reason
		if reason == "" {
			reason = "webhook did not confirm reply"
		}
		return retry("delivery refused: %s", reason)
	}

	if p.mail != nil && payload.MessageID != "" {
		if err := p.mail.MarkRead(ctx, payload.MessageID); err != nil {
			return retry("mark read %s: %v", payload.MessageID, err)
		}
	}
	return Outcome{Kind: OutcomeSuccess}
}

func (p *Pipeline) post(ctx context.Context, job *queue.Job) (*Ack, Outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(job.Payload))
	if err != nil {
		return nil, terminal("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.ID)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry("webhook post: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, retry("read webhook response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retry("webhook status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, retry("malformed ack body: %v", err)
	}
	return &ack, Outcome{Kind: OutcomeSuccess}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
