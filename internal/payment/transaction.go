package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes sales from reversals.
type TransactionType string

const (
	TypeCharge     TransactionType = "charge"
	TypeRefund     TransactionType = "refund"
	TypeChargeback TransactionType = "chargeback"
)

// IsReversal reports whether the type references an originating charge.
func (t TransactionType) IsReversal() bool {
	return t == TypeRefund || t == TypeChargeback
}

// Transaction is an immutable payment record. Amount and Fee are expressed in
// minor units and are never negative; direction is carried by Type.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	Created     time.Time       `json:"created"`
	Fee         decimal.Decimal `json:"fee"`
	SourceID    string          `json:"source_id,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// Net returns the balance impact of the transaction in minor units.
func (t Transaction) Net() decimal.Decimal {
	if t.Type.IsReversal() {
		return t.Amount.Add(t.Fee).Neg()
	}
	return t.Amount.Sub(t.Fee)
}

// SignedAmount returns the amount with reversals negated.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type.IsReversal() {
		return t.Amount.Neg()
	}
	return t.Amount
}

// HasTag reports whether tag is attached, case-insensitively.
func (t Transaction) HasTag(tag string) bool {
	for _, candidate := range t.Tags {
		if strings.EqualFold(candidate, tag) {
			return true
		}
	}
	return false
}

// NewTransaction builds a charge request as received from a caller.
func NewTransaction(id string, amountMinor decimal.Decimal, currency, description string, created time.Time, tags ...string) (Transaction, error) {
	if amountMinor.IsNegative() {
		return Transaction{}, fmt.Errorf("amount cannot be negative: %s", amountMinor)
	}
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:          id,
		Type:        TypeCharge,
		Amount:      amountMinor,
		Currency:    code,
		Description: description,
		Created:     created.UTC(),
		Tags:        append([]string(nil), tags...),
	}, nil
}
