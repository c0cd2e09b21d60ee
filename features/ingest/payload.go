// Package ingest contains the two job producers: the SMTP listener and the
// remote mailbox poller. Both build the same payload shape and insert into
// the durable queue; neither performs any delivery side effects.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/extractor"
)

// QuotePayload is the job payload handed to the delivery target: the
// captured message fields plus the structured quote the extractor derived
// from its text.
type QuotePayload struct {
	// MessageID is set only for mailbox-polled jobs; it names the remote
	// message to mark read once delivery has been acknowledged. SMTP jobs
	// have no remote counterpart and leave it empty.
	MessageID   string                     `json:"message_id,omitempty"`
	From        string                     `json:"from"`
	Subject     string                     `json:"subject"`
	Text        string                     `json:"text"`
	HTML        string                     `json:"html,omitempty"`
	Attachments []string                   `json:"attachments,omitempty"`
	Raw         string                     `json:"raw,omitempty"`
	Quote       *extractor.StructuredQuote `json:"quote"`
}

// Extractor is the text-extraction collaborator.
type Extractor interface {
	Extract(ctx context.Context, text string) (*extractor.StructuredQuote, error)
}

// JobStore is the slice of the queue repository ingestion needs.
type JobStore interface {
	Insert(ctx context.Context, job *queue.Job) (bool, error)
}

func (p *QuotePayload) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// saveAttachment writes attachment content under dir with a name derived
// from the capture time and a random id, keeping the original extension.
func saveAttachment(dir, name string, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("attachment dir: %w", err)
	}
	fileName := fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), uuid.New().String(), filepath.Ext(name))
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}
