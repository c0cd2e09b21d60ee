package mappings

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	stock, err := NewStore(filepath.Join(dir, "stock.json"))
	require.NoError(t, err)
	ops, err := NewListStore(filepath.Join(dir, "operations.json"))
	require.NoError(t, err)
	return NewHandler(stock, ops)
}

func TestHandler_StockMappingsRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	put := httptest.NewRequest(http.MethodPut, "/mappings/stock", strings.NewReader(`{"steel s235":"ST-S235JR"}`))
	rec := httptest.NewRecorder()
	h.PutStockMappings(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/mappings/stock", nil)
	rec = httptest.NewRecorder()
	h.GetStockMappings(rec, get)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"steel s235":"ST-S235JR"}}`, rec.Body.String())
}

func TestHandler_PutStockMappings_BadBody(t *testing.T) {
	h := newTestHandler(t)

	put := httptest.NewRequest(http.MethodPut, "/mappings/stock", strings.NewReader(`["not","a","map"]`))
	rec := httptest.NewRecorder()
	h.PutStockMappings(rec, put)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_BODY")
}

func TestHandler_OperationsRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	put := httptest.NewRequest(http.MethodPut, "/mappings/operations", strings.NewReader(`["milling","drilling"]`))
	rec := httptest.NewRecorder()
	h.PutOperations(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/mappings/operations", nil)
	rec = httptest.NewRecorder()
	h.GetOperations(rec, get)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["drilling","milling"]}`, rec.Body.String())
}
