package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/domain"
	"github.com/lindenhq/linden/internal/service"
)

// InstrumentHandler exposes stored payment instrument management.
type InstrumentHandler struct {
	vault    service.VaultService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewInstrumentHandler creates an InstrumentHandler.
func NewInstrumentHandler(vault service.VaultService, logger *slog.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		vault:    vault,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("handler", "instruments"),
	}
}

// attachRequest is the body for POST /api/payment-methods.
type attachRequest struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	Email        string `json:"email" validate:"required,email"`
	Name         string `json:"name" validate:"omitempty,max=200"`
	Phone        string `json:"phone" validate:"omitempty,max=40"`
	InstrumentID string `json:"instrument_id" validate:"required"`
	SetDefault   bool   `json:"set_default"`
}

// instrumentResponse is the JSON projection of a stored instrument.
type instrumentResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	ExpMonth  int64  `json:"exp_month,omitempty"`
	ExpYear   int64  `json:"exp_year,omitempty"`
	BankName  string `json:"bank_name,omitempty"`
	IsDefault bool   `json:"is_default"`
}

// List handles GET /api/payment-methods?user_id=...
func (h *InstrumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		ErrorResponse(w, r, domain.Invalid("instruments.list", "user_id query parameter is required"))
		return
	}

	list, err := h.vault.ListInstruments(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, providerAware(err, "instruments.list"))
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Cards        []instrumentResponse `json:"cards"`
		BankAccounts []instrumentResponse `json:"bank_accounts"`
	}{
		Cards:        toInstrumentResponses(list.Cards),
		BankAccounts: toInstrumentResponses(list.BankAccounts),
	})
}

// Attach handles POST /api/payment-methods.
func (h *InstrumentHandler) Attach(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, domain.Invalid("instruments.attach", "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ValidationErrorResponse(w, r, validationError("instruments.attach", err))
		return
	}

	instrument, err := h.vault.AttachInstrument(r.Context(),
		uuid.MustParse(req.UserID),
		domain.CustomerProfile{Email: req.Email, Name: req.Name, Phone: req.Phone},
		req.InstrumentID,
		req.SetDefault,
	)
	if err != nil {
		ErrorResponse(w, r, providerAware(err, "instruments.attach"))
		return
	}

	respondJSON(w, http.StatusCreated, struct {
		Instrument instrumentResponse `json:"payment_method"`
	}{Instrument: toInstrumentResponse(*instrument)})
}

// Detach handles DELETE /api/payment-methods/{id}?user_id=...
func (h *InstrumentHandler) Detach(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		ErrorResponse(w, r, domain.Invalid("instruments.detach", "user_id query parameter is required"))
		return
	}

	instrumentID := r.PathValue("id")
	if instrumentID == "" {
		ErrorResponse(w, r, domain.Invalid("instruments.detach", "instrument id is required"))
		return
	}

	if err := h.vault.DetachInstrument(r.Context(), userID, instrumentID); err != nil {
		ErrorResponse(w, r, providerAware(err, "instruments.detach"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toInstrumentResponse(in billing.Instrument) instrumentResponse {
	return instrumentResponse{
		ID:        in.ID,
		Type:      in.Type,
		Brand:     in.Brand,
		Last4:     in.Last4,
		ExpMonth:  in.ExpMonth,
		ExpYear:   in.ExpYear,
		BankName:  in.BankName,
		IsDefault: in.IsDefault,
	}
}

func toInstrumentResponses(in []billing.Instrument) []instrumentResponse {
	out := make([]instrumentResponse, 0, len(in))
	for _, i := range in {
		out = append(out, toInstrumentResponse(i))
	}
	return out
}
