package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
)

var errEmptyMessage = errors.New("empty message")

// SMTPBackend accepts inbound mail and enqueues one job per message. The
// message stream is buffered completely before parsing; a message that
// cannot be parsed or extracted is rejected at the protocol level so the
// sender sees the failure instead of the mail silently vanishing.
type SMTPBackend struct {
	extract       Extractor
	jobs          JobStore
	pub           queue.EventPublisher
	attachmentDir string
	logger        *slog.Logger
}

func NewSMTPBackend(extract Extractor, jobs JobStore, pub queue.EventPublisher, attachmentDir string, logger *slog.Logger) *SMTPBackend {
	return &SMTPBackend{
		extract:       extract,
		jobs:          jobs,
		pub:           pub,
		attachmentDir: attachmentDir,
		logger:        logger,
	}
}

func (b *SMTPBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

// NewSMTPServer builds the listener around the backend.
func NewSMTPServer(backend *SMTPBackend, addr, domain string) *smtp.Server {
	s := smtp.NewServer(backend)
	s.Addr = addr
	s.Domain = domain
	s.ReadTimeout = 60 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.MaxMessageBytes = 25 * 1024 * 1024
	s.MaxRecipients = 10
	return s
}

type session struct {
	backend *SMTPBackend
	from    string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(_ string, _ *smtp.RcptOptions) error {
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "failed to read message",
		}
	}
	return s.backend.Accept(context.Background(), s.from, raw)
}

func (s *session) Reset() {
	s.from = ""
}

func (s *session) Logout() error {
	return nil
}

// Accept parses a buffered raw message, runs extraction and inserts a job
// under a fresh UUID. Exported separately from the session so it can be
// exercised without a TCP connection.
func (b *SMTPBackend) Accept(ctx context.Context, envelopeFrom string, raw []byte) error {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err == nil && len(bytes.TrimSpace(raw)) == 0 {
		err = errEmptyMessage
	}
	if err != nil {
		b.logger.ErrorContext(ctx, "rejecting unparseable message", "from", envelopeFrom, "error", err)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	}

	from := env.GetHeader("From")
	if from == "" {
		from = envelopeFrom
	}
	subject := env.GetHeader("Subject")

	text := env.Text
	if text == "" {
		text = env.HTML
	}

	quote, err := b.extract.Extract(ctx, text)
	if err != nil {
		b.logger.ErrorContext(ctx, "rejecting unextractable message", "from", from, "subject", subject, "error", err)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 1},
			Message:      "message content not understood",
		}
	}

	var paths []string
	for _, part := range env.Attachments {
		path, err := saveAttachment(b.attachmentDir, part.FileName, part.Content)
		if err != nil {
			b.logger.ErrorContext(ctx, "failed to persist attachment", "name", part.FileName, "error", err)
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 3, 0},
				Message:      "temporary storage failure",
			}
		}
		paths = append(paths, path)
	}

	payload := QuotePayload{
		From:        from,
		Subject:     subject,
		Text:        env.Text,
		HTML:        env.HTML,
		Attachments: paths,
		Raw:         string(raw),
		Quote:       quote,
	}
	body, err := payload.Marshal()
	if err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure",
		}
	}

	jobID := uuid.New().String()
	if _, err := b.jobs.Insert(ctx, &queue.Job{ID: jobID, Payload: body}); err != nil {
		b.logger.ErrorContext(ctx, "failed to enqueue job", "from", from, "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "temporary storage failure",
		}
	}

	b.logger.InfoContext(ctx, "enqueued job from smtp", "job_id", jobID, "from", from, "subject", subject)
	b.publishEnqueued(jobID)
	return nil
}

func (b *SMTPBackend) publishEnqueued(jobID string) {
	if b.pub == nil {
		return
	}
	body, _ := json.Marshal(map[string]string{"job_id": jobID, "source": "smtp"})
	if err := b.pub.Publish(config.TopicJobEnqueued, body); err != nil {
		b.logger.Warn("failed to publish enqueued event", "job_id", jobID, "error", err)
	}
}
