package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/memory"
	"github.com/lindenhq/linden/internal/router"
	"github.com/lindenhq/linden/internal/service"
)

func newInstrumentsRouter(t *testing.T) *router.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	provider := billing.NewMockProvider()
	identities := service.NewIdentityService(memory.NewIdentityStore(), provider, logger)
	vault := service.NewVaultService(identities, provider, logger)

	h := NewInstrumentHandler(vault, logger)
	r := router.New()
	r.Get("/api/payment-methods", h.List)
	r.Post("/api/payment-methods", h.Attach)
	r.Delete("/api/payment-methods/{id}", h.Detach)
	return r
}

func TestInstrumentHandler_AttachListDetach(t *testing.T) {
	r := newInstrumentsRouter(t)
	userID := uuid.New()

	body, _ := json.Marshal(map[string]any{
		"user_id":       userID.String(),
		"email":         "tenant@example.com",
		"instrument_id": "pm_card_visa",
		"set_default":   true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/payment-methods", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var attached struct {
		Instrument struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			IsDefault bool   `json:"is_default"`
		} `json:"payment_method"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attached))
	assert.Equal(t, "pm_card_visa", attached.Instrument.ID)
	assert.True(t, attached.Instrument.IsDefault)

	req = httptest.NewRequest(http.MethodGet, "/api/payment-methods?user_id="+userID.String(), nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Cards []struct {
			ID string `json:"id"`
		} `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Cards, 1)
	assert.Equal(t, "pm_card_visa", list.Cards[0].ID)

	req = httptest.NewRequest(http.MethodDelete, "/api/payment-methods/pm_card_visa?user_id="+userID.String(), nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInstrumentHandler_List_EmptyForUnknownUser(t *testing.T) {
	r := newInstrumentsRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/payment-methods?user_id="+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Cards        []any `json:"cards"`
		BankAccounts []any `json:"bank_accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Cards)
	assert.Empty(t, list.BankAccounts)
}

func TestInstrumentHandler_Attach_Validation(t *testing.T) {
	r := newInstrumentsRouter(t)

	body, _ := json.Marshal(map[string]any{
		"user_id": uuid.New().String(),
		"email":   "tenant@example.com",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/payment-methods", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
