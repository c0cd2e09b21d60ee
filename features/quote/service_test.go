package quote

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balaji119/local-mail-forwarder-graph/features/ingest"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/extractor"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/pricing"
	"github.com/balaji119/local-mail-forwarder-graph/internal/mappings"
)

type fakePricer struct {
	authErr  error
	quoteErr error
	result   *pricing.PriceResult
	gotQuote *extractor.StructuredQuote
}

func (f *fakePricer) Authenticate(_ context.Context) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return "token-1", nil
}

func (f *fakePricer) Quote(_ context.Context, token string, q *extractor.StructuredQuote) (*pricing.PriceResult, error) {
	if token != "token-1" {
		return nil, errors.New("bad token")
	}
	f.gotQuote = q
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.result, nil
}

type fakeSender struct {
	to, subject, body string
	calls             int
	err               error
}

func (f *fakeSender) SendMail(_ context.Context, to, subject, body string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.to, f.subject, f.body = to, subject, body
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func newTestService(t *testing.T, pricer Pricer, sender MailSender) *Service {
	t.Helper()
	dir := t.TempDir()
	stock, err := mappings.NewStore(filepath.Join(dir, "stock.json"))
	require.NoError(t, err)
	require.NoError(t, stock.Put("aluminium 6061", "AL-6061-T6"))
	ops, err := mappings.NewListStore(filepath.Join(dir, "operations.json"))
	require.NoError(t, err)
	require.NoError(t, ops.Replace([]string{"milling", "drilling"}))
	return NewService(pricer, sender, stock, ops, "quotes@example.com", testLogger())
}

func samplePayload() *ingest.QuotePayload {
	return &ingest.QuotePayload{
		From:    "buyer@corp.com",
		Subject: "RFQ 1000 brackets",
		Quote: &extractor.StructuredQuote{
			Material:   "Aluminium 6061",
			Quantity:   1000,
			Operations: []string{"milling", "laser engraving"},
		},
	}
}

func TestService_Respond(t *testing.T) {
	pricer := &fakePricer{result: &pricing.PriceResult{Price: 1234.50, Currency: "EUR", ValidDays: 30, Reference: "Q-2026-001"}}
	sender := &fakeSender{}
	s := newTestService(t, pricer, sender)

	require.NoError(t, s.Respond(context.Background(), samplePayload()))

	require.NotNil(t, pricer.gotQuote)
	assert.Equal(t, "AL-6061-T6", pricer.gotQuote.Material, "material mapped onto the stock catalogue")
	assert.Equal(t, []string{"milling"}, pricer.gotQuote.Operations, "unknown operations dropped")

	assert.Equal(t, "buyer@corp.com", sender.to)
	assert.Equal(t, "Re: RFQ 1000 brackets", sender.subject)
	assert.Contains(t, sender.body, "1234.50 EUR")
	assert.Contains(t, sender.body, "Q-2026-001")
	assert.Contains(t, sender.body, "valid for 30 days")
}

func TestService_Respond_UnmappedMaterialPassesThrough(t *testing.T) {
	pricer := &fakePricer{result: &pricing.PriceResult{Price: 10, Currency: "EUR"}}
	sender := &fakeSender{}
	s := newTestService(t, pricer, sender)

	payload := samplePayload()
	payload.Quote.Material = "unobtainium"
	require.NoError(t, s.Respond(context.Background(), payload))

	assert.Equal(t, "unobtainium", pricer.gotQuote.Material)
}

func TestService_Respond_NoQuote(t *testing.T) {
	s := newTestService(t, &fakePricer{}, &fakeSender{})
	payload := samplePayload()
	payload.Quote = nil

	err := s.Respond(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no structured quote")
}

func TestService_Respond_PricingFailure(t *testing.T) {
	pricer := &fakePricer{quoteErr: errors.New("status 503")}
	sender := &fakeSender{}
	s := newTestService(t, pricer, sender)

	err := s.Respond(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Zero(t, sender.calls, "no reply goes out without a price")
}

func TestService_Respond_SendFailure(t *testing.T) {
	pricer := &fakePricer{result: &pricing.PriceResult{Price: 10, Currency: "EUR"}}
	sender := &fakeSender{err: errors.New("graph api 500")}
	s := newTestService(t, pricer, sender)

	err := s.Respond(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send reply")
}
