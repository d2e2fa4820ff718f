package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/domain"
	"github.com/lindenhq/linden/internal/service"
)

// PaymentHandler exposes the payment ledger over HTTP: intent creation,
// stored-instrument charges, history, receipts, and refunds.
type PaymentHandler struct {
	charges  service.ChargeService
	ledger   service.LedgerService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(charges service.ChargeService, ledger service.LedgerService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		charges:  charges,
		ledger:   ledger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("handler", "payments"),
	}
}

// createIntentRequest is the body for POST /api/payments/intents.
type createIntentRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	Email       string `json:"email" validate:"required,email"`
	Name        string `json:"name" validate:"omitempty,max=200"`
	Phone       string `json:"phone" validate:"omitempty,max=40"`
	PropertyID  string `json:"property_id" validate:"omitempty,uuid"`
	UnitID      string `json:"unit_id" validate:"omitempty,uuid"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
	Description string `json:"description" validate:"omitempty,max=500"`

	ScheduledDate     string `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	IsRecurring       bool   `json:"is_recurring"`
	RecurringInterval string `json:"recurring_interval" validate:"omitempty,oneof=monthly weekly"`
}

// chargeRequest is the body for POST /api/payments/charges.
type chargeRequest struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	Email        string `json:"email" validate:"required,email"`
	Name         string `json:"name" validate:"omitempty,max=200"`
	Phone        string `json:"phone" validate:"omitempty,max=40"`
	PropertyID   string `json:"property_id" validate:"omitempty,uuid"`
	UnitID       string `json:"unit_id" validate:"omitempty,uuid"`
	AmountCents  int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3,alpha"`
	InstrumentID string `json:"instrument_id" validate:"required"`
	MethodType   string `json:"method_type" validate:"omitempty,oneof=card bank_transfer"`
	Description  string `json:"description" validate:"omitempty,max=500"`
	OffSession   bool   `json:"off_session"`

	ScheduledDate     string `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	IsRecurring       bool   `json:"is_recurring"`
	RecurringInterval string `json:"recurring_interval" validate:"omitempty,oneof=monthly weekly"`
}

// refundRequest is the body for POST /api/payments/{id}/refund.
type refundRequest struct {
	Reason string `json:"reason" validate:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

// paymentResponse is the JSON projection of a ledger entry.
type paymentResponse struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	PropertyID        string     `json:"property_id,omitempty"`
	UnitID            string     `json:"unit_id,omitempty"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	ExternalIntentID  string     `json:"external_intent_id,omitempty"`
	Status            string     `json:"status"`
	PaymentMethodType string     `json:"payment_method_type"`
	InstrumentID      string     `json:"instrument_id,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	ScheduledDate     string     `json:"scheduled_date,omitempty"`
	IsRecurring       bool       `json:"is_recurring,omitempty"`
	RecurringInterval string     `json:"recurring_interval,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// receiptResponse is the JSON projection of a receipt.
type receiptResponse struct {
	LedgerEntryID     string    `json:"ledger_entry_id"`
	ReceiptNumber     string    `json:"receipt_number"`
	UserID            string    `json:"user_id"`
	PropertyID        string    `json:"property_id,omitempty"`
	UnitID            string    `json:"unit_id,omitempty"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	PaymentMethodType string    `json:"payment_method_type"`
	InstrumentID      string    `json:"instrument_id,omitempty"`
	PaidAt            time.Time `json:"paid_at"`
	IssuedAt          time.Time `json:"issued_at"`
}

// CreateIntent handles POST /api/payments/intents.
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, domain.Invalid("payments.create_intent", "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ValidationErrorResponse(w, r, validationError("payments.create_intent", err))
		return
	}

	result, err := h.charges.CreateIntent(r.Context(), service.CreateIntentParams{
		UserID:      uuid.MustParse(req.UserID),
		Profile:     domain.CustomerProfile{Email: req.Email, Name: req.Name, Phone: req.Phone},
		PropertyID:  parseOptionalUUID(req.PropertyID),
		UnitID:      parseOptionalUUID(req.UnitID),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Description: req.Description,
		Scheduling:  schedulingFromRequest(req.ScheduledDate, req.IsRecurring, req.RecurringInterval),
	})
	if err != nil {
		ErrorResponse(w, r, providerAware(err, "payments.create_intent"))
		return
	}

	respondJSON(w, http.StatusCreated, struct {
		Payment      paymentResponse `json:"payment"`
		ClientSecret string          `json:"client_secret"`
	}{
		Payment:      toPaymentResponse(result.Entry),
		ClientSecret: result.ClientSecret,
	})
}

// Charge handles POST /api/payments/charges.
func (h *PaymentHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, domain.Invalid("payments.charge", "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ValidationErrorResponse(w, r, validationError("payments.charge", err))
		return
	}

	entry, err := h.charges.ChargeInstrument(r.Context(), service.ChargeInstrumentParams{
		UserID:       uuid.MustParse(req.UserID),
		Profile:      domain.CustomerProfile{Email: req.Email, Name: req.Name, Phone: req.Phone},
		PropertyID:   parseOptionalUUID(req.PropertyID),
		UnitID:       parseOptionalUUID(req.UnitID),
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		InstrumentID: req.InstrumentID,
		MethodType:   domain.PaymentMethodType(req.MethodType),
		Description:  req.Description,
		Scheduling:   schedulingFromRequest(req.ScheduledDate, req.IsRecurring, req.RecurringInterval),
		OffSession:   req.OffSession,
	})
	if err != nil {
		ErrorResponse(w, r, providerAware(err, "payments.charge"))
		return
	}

	// A recorded decline is a business outcome: the ledger entry exists in
	// the failed state and the response status tells the client to try
	// another instrument.
	status := http.StatusCreated
	if entry.Status == domain.PaymentStatusFailed {
		status = http.StatusPaymentRequired
	}

	respondJSON(w, status, struct {
		Payment paymentResponse `json:"payment"`
	}{Payment: toPaymentResponse(entry)})
}

// Get handles GET /api/payments/{id}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, domain.Invalid("payments.get", "invalid payment id"))
		return
	}

	entry, err := h.ledger.GetPayment(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Payment paymentResponse `json:"payment"`
	}{Payment: toPaymentResponse(entry)})
}

// List handles GET /api/payments?user_id=...
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		ErrorResponse(w, r, domain.Invalid("payments.list", "user_id query parameter is required"))
		return
	}

	entries, err := h.ledger.ListForUser(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	out := make([]paymentResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toPaymentResponse(&entries[i]))
	}

	respondJSON(w, http.StatusOK, struct {
		Payments []paymentResponse `json:"payments"`
	}{Payments: out})
}

// ListOverdue handles GET /api/payments/overdue.
func (h *PaymentHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ErrorResponse(w, r, domain.Invalid("payments.list_overdue", "as_of must be RFC 3339"))
			return
		}
		asOf = parsed
	}

	entries, err := h.ledger.ListOverdue(r.Context(), asOf)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	out := make([]paymentResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toPaymentResponse(&entries[i]))
	}

	respondJSON(w, http.StatusOK, struct {
		Payments []paymentResponse `json:"payments"`
	}{Payments: out})
}

// Receipt handles GET /api/payments/{id}/receipt.
func (h *PaymentHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, domain.Invalid("payments.receipt", "invalid payment id"))
		return
	}

	receipt, err := h.ledger.GetReceipt(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Receipt receiptResponse `json:"receipt"`
	}{Receipt: toReceiptResponse(receipt)})
}

// Refund handles POST /api/payments/{id}/refund.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, domain.Invalid("payments.refund", "invalid payment id"))
		return
	}

	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, domain.Invalid("payments.refund", "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ValidationErrorResponse(w, r, validationError("payments.refund", err))
		return
	}

	entry, err := h.charges.Refund(r.Context(), id, req.Reason)
	if err != nil {
		ErrorResponse(w, r, providerAware(err, "payments.refund"))
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Payment paymentResponse `json:"payment"`
	}{Payment: toPaymentResponse(entry)})
}

func toPaymentResponse(entry *domain.PaymentLedgerEntry) paymentResponse {
	resp := paymentResponse{
		ID:                entry.ID.String(),
		UserID:            entry.UserID.String(),
		AmountCents:       entry.AmountCents,
		Currency:          entry.Currency,
		ExternalIntentID:  entry.ExternalIntentID,
		Status:            string(entry.Status),
		PaymentMethodType: string(entry.PaymentMethodType),
		InstrumentID:      entry.InstrumentID,
		FailureReason:     entry.FailureReason,
		IsRecurring:       entry.Scheduling.IsRecurring,
		RecurringInterval: entry.Scheduling.RecurringInterval,
		PaidAt:            entry.PaidAt,
		CreatedAt:         entry.CreatedAt,
		UpdatedAt:         entry.UpdatedAt,
	}
	if entry.PropertyID != uuid.Nil {
		resp.PropertyID = entry.PropertyID.String()
	}
	if entry.UnitID != uuid.Nil {
		resp.UnitID = entry.UnitID.String()
	}
	if entry.Scheduling.ScheduledDate != nil {
		resp.ScheduledDate = entry.Scheduling.ScheduledDate.Format("2006-01-02")
	}
	return resp
}

func toReceiptResponse(receipt *domain.Receipt) receiptResponse {
	resp := receiptResponse{
		LedgerEntryID:     receipt.LedgerEntryID.String(),
		ReceiptNumber:     receipt.ReceiptNumber,
		UserID:            receipt.UserID.String(),
		AmountCents:       receipt.AmountCents,
		Currency:          receipt.Currency,
		PaymentMethodType: string(receipt.PaymentMethodType),
		InstrumentID:      receipt.InstrumentID,
		PaidAt:            receipt.PaidAt,
		IssuedAt:          receipt.IssuedAt,
	}
	if receipt.PropertyID != uuid.Nil {
		resp.PropertyID = receipt.PropertyID.String()
	}
	if receipt.UnitID != uuid.Nil {
		resp.UnitID = receipt.UnitID.String()
	}
	return resp
}

func schedulingFromRequest(scheduledDate string, isRecurring bool, interval string) domain.Scheduling {
	s := domain.Scheduling{IsRecurring: isRecurring}
	if isRecurring {
		s.RecurringInterval = interval
	}
	if scheduledDate != "" {
		if t, err := time.Parse("2006-01-02", scheduledDate); err == nil {
			s.ScheduledDate = &t
		}
	}
	return s
}

func parseOptionalUUID(raw string) uuid.UUID {
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// validationError converts validator output into field-level domain errors.
func validationError(op string, err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.Invalid(op, "validation failed")
	}

	var out error
	for _, fe := range verrs {
		out = domain.AddFieldError(out, fe.Field(), validationMessage(fe))
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "uuid":
		return "must be a valid UUID"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "alpha":
		return "must contain only letters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	default:
		return "is invalid"
	}
}

// providerAware maps processor errors the service layer passed through
// onto the codes the HTTP mapping understands: declines become payment
// errors, transient processor trouble becomes a retryable 503.
func providerAware(err error, op string) error {
	if domain.ErrorCode(err) != domain.EINTERNAL {
		return err
	}
	if billing.IsDeclined(err) {
		return domain.WrapError(err, domain.EPAYMENT, op, "payment was declined")
	}
	if billing.IsTemporary(err) {
		return domain.Unavailable(err, op, "payment processor is temporarily unavailable")
	}
	return err
}
