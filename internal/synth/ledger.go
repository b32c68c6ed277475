package synth

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"payment-router/internal/payment"
)

const settlementDelay = 2 * 24 * time.Hour

// LedgerEntry mirrors a processor balance transaction. Amounts are signed
// integers in minor units.
type LedgerEntry struct {
	ID                string `json:"id"`
	Object            string `json:"object"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Created           int64  `json:"created"`
	AvailableOn       int64  `json:"available_on"`
	Fee               int64  `json:"fee"`
	Net               int64  `json:"net"`
	ReportingCategory string `json:"reporting_category"`
	Source            string `json:"source"`
	Status            string `json:"status"`
	Type              string `json:"type"`
	Description       string `json:"description"`
}

// LedgerEntryFor converts a transaction into its balance transaction record.
func LedgerEntryFor(tx payment.Transaction) LedgerEntry {
	entry := LedgerEntry{
		ID:          "txn_" + idSuffix(tx.ID),
		Object:      "balance_transaction",
		Amount:      tx.SignedAmount().IntPart(),
		Currency:    strings.ToLower(tx.Currency),
		Created:     tx.Created.Unix(),
		AvailableOn: tx.Created.Add(settlementDelay).Unix(),
		Fee:         tx.Fee.IntPart(),
		Net:         tx.Net().IntPart(),
		Source:      tx.ID,
		Status:      "available",
		Description: tx.Description,
	}
	switch tx.Type {
	case payment.TypeCharge:
		entry.Type, entry.ReportingCategory = "charge", "charge"
	case payment.TypeRefund:
		entry.Type, entry.ReportingCategory = "refund", "refund"
	case payment.TypeChargeback:
		entry.Type, entry.ReportingCategory = "adjustment", "dispute"
	}
	return entry
}

func idSuffix(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Ledger converts the whole batch.
func (b Batch) Ledger() []LedgerEntry {
	out := make([]LedgerEntry, len(b.Transactions))
	for i, tx := range b.Transactions {
		out[i] = LedgerEntryFor(tx)
	}
	return out
}

type ledgerList struct {
	Object  string        `json:"object"`
	Data    []LedgerEntry `json:"data"`
	HasMore bool          `json:"has_more"`
}

// WriteLedgerJSON writes the batch as a balance transaction list.
func WriteLedgerJSON(w io.Writer, b Batch) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ledgerList{Object: "list", Data: b.Ledger()})
}

var ledgerHeader = []string{
	"id", "object", "amount", "currency", "created", "available_on",
	"fee", "net", "reporting_category", "source", "status", "type", "description",
}

// WriteLedgerCSV writes one balance transaction per row.
func WriteLedgerCSV(w io.Writer, b Batch) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ledgerHeader); err != nil {
		return err
	}
	for _, e := range b.Ledger() {
		record := []string{
			e.ID,
			e.Object,
			strconv.FormatInt(e.Amount, 10),
			e.Currency,
			strconv.FormatInt(e.Created, 10),
			strconv.FormatInt(e.AvailableOn, 10),
			strconv.FormatInt(e.Fee, 10),
			strconv.FormatInt(e.Net, 10),
			e.ReportingCategory,
			e.Source,
			e.Status,
			e.Type,
			e.Description,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteBatch serialises a batch so it can be analysed or replayed later.
func WriteBatch(w io.Writer, b Batch) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// ReadBatch decodes a batch written by WriteBatch.
func ReadBatch(r io.Reader) (Batch, error) {
	var b Batch
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	if _, err := ParsePattern(string(b.Params.Pattern)); err != nil {
		return Batch{}, err
	}
	for i, tx := range b.Transactions {
		if tx.ID == "" {
			return Batch{}, fmt.Errorf("decode batch: transaction %d has no id", i)
		}
		if tx.Amount.IsNegative() {
			return Batch{}, fmt.Errorf("decode batch: transaction %s has a negative amount", tx.ID)
		}
	}
	return b, nil
}
