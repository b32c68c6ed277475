package synth

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"payment-router/internal/payment"
)

const TagSynthetic = "synthetic"

var (
	processorRate  = decimal.RequireFromString("0.029")
	processorFixed = decimal.NewFromInt(30)
)

// Amounts are in minor units.
const (
	minBaselineAmount       = 1_000.0
	spikeAmountMin    int64 = 20_000
	spikeAmountMax    int64 = 200_000
	riskyAmountMin    int64 = 10_000
	riskyAmountMax    int64 = 80_000

	baselineRefundRate     = 0.02
	baselineChargebackRate = 0.001
)

var (
	chargeDescriptions = []string{
		"Monthly subscription billing",
		"One-time service payment",
		"Product purchase - digital",
		"Consulting services",
		"License fee - annual",
	}
	refundDescriptions = []string{
		"Product not as described",
		"Customer complaint",
		"Defective item",
		"Unauthorized purchase",
		"Billing dispute",
	}
	chargebackDescriptions = []string{
		"Chargeback: Fraudulent transaction",
		"Chargeback: Authorization dispute",
		"Chargeback: Processing error",
		"Chargeback: Duplicate processing",
	}
)

// Batch is a generated, immutable sequence of transactions ordered by
// creation time.
type Batch struct {
	Params       Params                `json:"params"`
	Transactions []payment.Transaction `json:"transactions"`
}

// Count returns the number of transactions of type t.
func (b Batch) Count(t payment.TransactionType) int {
	n := 0
	for _, tx := range b.Transactions {
		if tx.Type == t {
			n++
		}
	}
	return n
}

// Charges returns the originating charges of the batch.
func (b Batch) Charges() []payment.Transaction {
	out := make([]payment.Transaction, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		if tx.Type == payment.TypeCharge {
			out = append(out, tx)
		}
	}
	return out
}

// Summary aggregates a batch for display.
type Summary struct {
	Charges     int             `json:"charges"`
	Refunds     int             `json:"refunds"`
	Chargebacks int             `json:"chargebacks"`
	Gross       decimal.Decimal `json:"gross"`
	Fees        decimal.Decimal `json:"fees"`
	Net         decimal.Decimal `json:"net"`
	First       time.Time       `json:"first"`
	Last        time.Time       `json:"last"`
}

// Summarize computes totals in minor units.
func (b Batch) Summarize() Summary {
	s := Summary{Gross: decimal.Zero, Fees: decimal.Zero, Net: decimal.Zero}
	for i, tx := range b.Transactions {
		switch tx.Type {
		case payment.TypeCharge:
			s.Charges++
			s.Gross = s.Gross.Add(tx.Amount)
		case payment.TypeRefund:
			s.Refunds++
		case payment.TypeChargeback:
			s.Chargebacks++
		}
		s.Fees = s.Fees.Add(tx.Fee)
		s.Net = s.Net.Add(tx.Net())
		if i == 0 {
			s.First = tx.Created
		}
		s.Last = tx.Created
	}
	return s
}

// ProcessorFee is the fee applied to synthetic charges (2.9% + 30 minor units).
func ProcessorFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(processorRate).Add(processorFixed).Round(0)
}

// Generate produces the batch described by p. The only source of randomness
// is a generator seeded from p.Seed.
func Generate(p Params) (Batch, error) {
	if err := p.Validate(); err != nil {
		return Batch{}, err
	}

	g := &generator{p: p, rng: rand.New(rand.NewSource(p.Seed))}

	var txs []payment.Transaction
	switch p.Pattern {
	case PatternBaseline:
		txs = g.baseline()
	case PatternVolumeSpike:
		txs = g.volumeSpike()
	case PatternRefundSurge:
		txs = g.refundSurge()
	case PatternChargebackSurge:
		txs = g.chargebackSurge()
	default:
		return Batch{}, fmt.Errorf("%w: %q", ErrUnknownPattern, p.Pattern)
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Created.Equal(txs[j].Created) {
			return txs[i].Created.Before(txs[j].Created)
		}
		return txs[i].ID < txs[j].ID
	})

	return Batch{Params: p, Transactions: txs}, nil
}

// GenerateAll generates every batch using at most workers goroutines. Output
// order matches input order and each batch equals its sequential result.
func GenerateAll(ctx context.Context, params []Params, workers int) ([]Batch, error) {
	out := make([]Batch, len(params))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, p := range params {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := Generate(p)
			if err != nil {
				return fmt.Errorf("batch %d (%s): %w", i, p.Pattern, err)
			}
			out[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type generator struct {
	p   Params
	rng *rand.Rand
}

func (g *generator) baseline() []payment.Transaction {
	charges := g.businessCharges(g.normalAmount)
	txs := append([]payment.Transaction(nil), charges...)
	for _, ch := range charges {
		if g.rng.Float64() < baselineRefundRate {
			txs = append(txs, g.refund(ch, time.Hour, 48*time.Hour))
		}
		if g.rng.Float64() < baselineChargebackRate {
			txs = append(txs, g.chargeback(ch))
		}
	}
	return txs
}

func (g *generator) volumeSpike() []payment.Transaction {
	n := g.p.Volume
	if n == 0 {
		n = max(g.p.SpikeMultiplier*g.p.DailyVolume, minSpikeCharges)
	}
	txs := make([]payment.Transaction, 0, n)
	for i := 0; i < n; i++ {
		created := g.p.Start.Add(time.Duration(g.rng.Int63n(int64(g.p.SpikeWindow/time.Second))) * time.Second)
		amount := g.uniformAmount(spikeAmountMin, spikeAmountMax)
		txs = append(txs, g.charge(created, amount, "Large purchase - promotional event"))
	}
	return txs
}

func (g *generator) refundSurge() []payment.Transaction {
	charges := g.businessCharges(g.normalAmount)
	txs := append([]payment.Transaction(nil), charges...)
	for _, idx := range g.pick(len(charges), g.p.RefundRate) {
		txs = append(txs, g.refund(charges[idx], 2*time.Hour, 48*time.Hour))
	}
	return txs
}

func (g *generator) chargebackSurge() []payment.Transaction {
	charges := g.businessCharges(func() decimal.Decimal {
		return g.uniformAmount(riskyAmountMin, riskyAmountMax)
	})
	txs := append([]payment.Transaction(nil), charges...)
	for _, idx := range g.pick(len(charges), g.p.ChargebackRate) {
		txs = append(txs, g.chargeback(charges[idx]))
	}
	return txs
}

// businessCharges emits charges between 09:00 and 17:59:59 UTC on each day of
// the batch. With an explicit Volume the charges are spread over random days.
func (g *generator) businessCharges(amount func() decimal.Decimal) []payment.Transaction {
	day0 := g.p.Start.Truncate(24 * time.Hour)

	var days []int
	if g.p.Volume > 0 {
		days = make([]int, g.p.Volume)
		for i := range days {
			days[i] = g.rng.Intn(g.p.Days)
		}
	} else {
		for d := 0; d < g.p.Days; d++ {
			n := int(math.Round(float64(g.p.DailyVolume) * (0.8 + 0.4*g.rng.Float64())))
			for i := 0; i < n; i++ {
				days = append(days, d)
			}
		}
	}

	out := make([]payment.Transaction, 0, len(days))
	for _, d := range days {
		offset := 9*time.Hour + time.Duration(g.rng.Int63n(int64(9*time.Hour/time.Second)))*time.Second
		created := day0.AddDate(0, 0, d).Add(offset)
		desc := chargeDescriptions[g.rng.Intn(len(chargeDescriptions))]
		out = append(out, g.charge(created, amount(), desc))
	}
	return out
}

// pick selects exactly round(rate*n) distinct indices.
func (g *generator) pick(n int, rate float64) []int {
	k := int(math.Round(rate * float64(n)))
	if k > n {
		k = n
	}
	return g.rng.Perm(n)[:k]
}

func (g *generator) normalAmount() decimal.Decimal {
	mean := g.p.MeanAmount.InexactFloat64()
	v := mean + g.rng.NormFloat64()*0.3*mean
	return decimal.NewFromFloat(math.Max(minBaselineAmount, math.Round(v)))
}

func (g *generator) uniformAmount(lo, hi int64) decimal.Decimal {
	return decimal.NewFromInt(lo + g.rng.Int63n(hi-lo+1))
}

func (g *generator) after(t time.Time, lo, hi time.Duration) time.Time {
	minutes := int64((hi - lo) / time.Minute)
	return t.Add(lo + time.Duration(g.rng.Int63n(minutes+1))*time.Minute)
}

func (g *generator) id(prefix string) string {
	u := uuid.Must(uuid.NewRandomFromReader(g.rng))
	return prefix + hex.EncodeToString(u[:])[:24]
}

func (g *generator) charge(created time.Time, amount decimal.Decimal, description string) payment.Transaction {
	return payment.Transaction{
		ID:          g.id("ch_"),
		Type:        payment.TypeCharge,
		Amount:      amount,
		Currency:    g.p.Currency,
		Description: description,
		Created:     created,
		Fee:         ProcessorFee(amount),
		Tags:        g.tags(),
	}
}

func (g *generator) refund(ch payment.Transaction, lo, hi time.Duration) payment.Transaction {
	return payment.Transaction{
		ID:          g.id("re_"),
		Type:        payment.TypeRefund,
		Amount:      ch.Amount,
		Currency:    ch.Currency,
		Description: refundDescriptions[g.rng.Intn(len(refundDescriptions))],
		Created:     g.after(ch.Created, lo, hi),
		Fee:         decimal.Zero,
		SourceID:    ch.ID,
		Tags:        g.tags(),
	}
}

func (g *generator) chargeback(ch payment.Transaction) payment.Transaction {
	return payment.Transaction{
		ID:          g.id("cb_"),
		Type:        payment.TypeChargeback,
		Amount:      ch.Amount,
		Currency:    ch.Currency,
		Description: chargebackDescriptions[g.rng.Intn(len(chargebackDescriptions))],
		Created:     g.after(ch.Created, 10*24*time.Hour, 60*24*time.Hour),
		Fee:         g.p.ChargebackFee,
		SourceID:    ch.ID,
		Tags:        g.tags(),
	}
}

func (g *generator) tags() []string {
	return []string{TagSynthetic, string(g.p.Pattern)}
}
