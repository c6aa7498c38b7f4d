// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel is the closed set of channels a transaction can arrive on.
type Channel string

const (
	ChannelWeb           Channel = "Web"
	ChannelMobile        Channel = "Mobile"
	ChannelPOS           Channel = "POS"
	ChannelATM           Channel = "ATM"
	ChannelInternational Channel = "International"
	ChannelOther         Channel = "Other"
)

// NormalizeChannel maps common channel aliases ("online", "app", "terminal")
// onto the closed enumeration. Unknown values map to ChannelOther.
func NormalizeChannel(raw string) Channel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "web", "online", "internet":
		return ChannelWeb
	case "mobile", "app", "smartphone":
		return ChannelMobile
	case "pos", "terminal":
		return ChannelPOS
	case "atm", "cash":
		return ChannelATM
	case "international", "foreign", "overseas":
		return ChannelInternational
	default:
		return ChannelOther
	}
}

// Transaction is the immutable input to a fraud evaluation.
// It is constructed and validated once at the boundary; the scoring core
// assumes a well-formed value and never re-validates primitive fields.
type Transaction struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customerId"`
	Amount         float64   `json:"amount"`
	Channel        Channel   `json:"channel"`
	KYCVerified    bool      `json:"kycVerified"`
	AccountAgeDays float64   `json:"accountAgeDays"`
	Timestamp      time.Time `json:"timestamp"`

	// Optional caller-supplied metadata, passed through to alerts.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationError reports a malformed transaction field by name.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: field %q %s", e.Field, e.Detail)
}

// Validate checks boundary invariants. A missing amount is an error here,
// never a silent default of zero.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Detail: "is required"}
	}
	if t.CustomerID == "" {
		return &ValidationError{Field: "customerId", Detail: "is required"}
	}
	if t.Amount < 0 {
		return &ValidationError{Field: "amount", Detail: "must be non-negative"}
	}
	if t.AccountAgeDays < 0 {
		return &ValidationError{Field: "accountAgeDays", Detail: "must be non-negative"}
	}
	if t.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Detail: "is required"}
	}
	switch t.Channel {
	case ChannelWeb, ChannelMobile, ChannelPOS, ChannelATM, ChannelInternational, ChannelOther:
	default:
		return &ValidationError{Field: "channel", Detail: "must be one of Web, Mobile, POS, ATM, International, Other"}
	}
	return nil
}

// Hour returns the transaction's hour of day, derived from the transaction's
// own timestamp, never evaluation time.
func (t *Transaction) Hour() int {
	return t.Timestamp.Hour()
}

// Weekday returns the transaction's day of week.
func (t *Transaction) Weekday() time.Weekday {
	return t.Timestamp.Weekday()
}
