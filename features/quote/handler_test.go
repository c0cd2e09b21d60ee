package quote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/pricing"
)

func postPayload(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/deliver", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Respond(rec, req)
	return rec
}

func TestHandler_Respond(t *testing.T) {
	pricer := &fakePricer{result: &pricing.PriceResult{Price: 10, Currency: "EUR"}}
	sender := &fakeSender{}
	h := NewHandler(newTestService(t, pricer, sender))

	payload, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	rec := postPayload(t, h, string(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	var ack struct {
		Replied bool   `json:"replied"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.Replied)
	assert.Equal(t, 1, sender.calls)
}

func TestHandler_Respond_BusinessFailureAnswers200(t *testing.T) {
	pricer := &fakePricer{result: &pricing.PriceResult{}}
	h := NewHandler(newTestService(t, pricer, &fakeSender{}))

	payload, err := json.Marshal(map[string]any{"from": "buyer@corp.com"})
	require.NoError(t, err)

	rec := postPayload(t, h, string(payload))
	require.Equal(t, http.StatusOK, rec.Code, "business failures ride the ack, not the status code")

	var ack struct {
		Replied bool   `json:"replied"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.False(t, ack.Replied)
	assert.Contains(t, ack.Reason, "no structured quote")
}

func TestHandler_Respond_UndecodableBody(t *testing.T) {
	h := NewHandler(newTestService(t, &fakePricer{}, &fakeSender{}))

	rec := postPayload(t, h, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_BODY")
}
