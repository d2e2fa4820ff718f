package billing

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderError_IsDeclined(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{
			name: "card declined code",
			err:  &ProviderError{Code: "card_declined"},
			want: true,
		},
		{
			name: "decline code without card_declined",
			err:  &ProviderError{Code: "processing_error", DeclineCode: "do_not_honor"},
			want: true,
		},
		{
			name: "rate limit",
			err:  &ProviderError{Code: "rate_limit"},
			want: false,
		},
		{
			name: "server error",
			err:  &ProviderError{HTTPStatus: 500},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsDeclined(); got != tt.want {
				t.Errorf("IsDeclined() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderError_IsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"rate limit", &ProviderError{Code: "rate_limit"}, true},
		{"connection error", &ProviderError{Code: "api_connection_error"}, true},
		{"server error", &ProviderError{HTTPStatus: 503}, true},
		{"card declined", &ProviderError{Code: "card_declined", HTTPStatus: 402}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsTemporary(); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsDeclined_Wrapped(t *testing.T) {
	pe := &ProviderError{Code: "card_declined", DeclineCode: "insufficient_funds"}
	wrapped := fmt.Errorf("failed to confirm payment: %w", pe)

	if !IsDeclined(wrapped) {
		t.Error("IsDeclined() must unwrap through fmt.Errorf")
	}
	if IsDeclined(errors.New("plain error")) {
		t.Error("IsDeclined() must be false for non-provider errors")
	}
}

func TestIsTemporary_Wrapped(t *testing.T) {
	pe := &ProviderError{Code: "api_connection_error"}
	wrapped := fmt.Errorf("failed to create customer: %w", pe)

	if !IsTemporary(wrapped) {
		t.Error("IsTemporary() must unwrap through fmt.Errorf")
	}
	if IsTemporary(errors.New("plain error")) {
		t.Error("IsTemporary() must be false for non-provider errors")
	}
}

func TestPaymentError_Reason(t *testing.T) {
	tests := []struct {
		name string
		err  *PaymentError
		want string
	}{
		{"nil error", nil, ""},
		{"decline code wins", &PaymentError{Code: "card_declined", DeclineCode: "insufficient_funds"}, "insufficient_funds"},
		{"code fallback", &PaymentError{Code: "expired_card"}, "expired_card"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Reason(); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}
