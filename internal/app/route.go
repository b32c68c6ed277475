package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-router/internal/payment"
	"payment-router/internal/risk"
	"payment-router/internal/service"
)

// RouteOptions configure a single routed transaction. Amount is in major
// units.
type RouteOptions struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Tier        string
	Freeze      []string
	JSON        bool
}

// SimulateFreezeOptions configure the freeze drill.
type SimulateFreezeOptions struct {
	Processor string
	Amount    decimal.Decimal
	Currency  string
}

// Route sends one transaction through the router and the simulated
// dispatcher, printing the decision chain.
func (a *App) Route(ctx context.Context, opts RouteOptions) (service.Outcome, error) {
	if !opts.Amount.IsPositive() {
		return service.Outcome{}, errors.New("--amount must be positive")
	}
	var routeOpts []service.ProcessOption
	if opts.Tier != "" {
		tier, err := risk.ParseTier(opts.Tier)
		if err != nil {
			return service.Outcome{}, err
		}
		routeOpts = append(routeOpts, service.WithTier(tier))
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.Outcome{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	reg, procs, err := a.newRegistry()
	if err != nil {
		return service.Outcome{}, err
	}
	if len(opts.Freeze) > 0 {
		monitor, err := a.newMonitor(reg, nil, store)
		if err != nil {
			return service.Outcome{}, err
		}
		if err := a.freeze(ctx, monitor, opts.Freeze); err != nil {
			return service.Outcome{}, err
		}
	}

	dispatcher, err := a.newDispatcher(procs)
	if err != nil {
		return service.Outcome{}, err
	}
	router, err := a.newRouter(reg, dispatcher, store)
	if err != nil {
		return service.Outcome{}, err
	}

	tx, err := newCharge(opts.Amount, opts.Currency, opts.Description, time.Now().UTC())
	if err != nil {
		return service.Outcome{}, err
	}
	out, err := router.Process(ctx, tx, routeOpts...)
	if err != nil {
		return out, err
	}

	if opts.JSON {
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		return out, enc.Encode(out)
	}
	printOutcome(a.out(), out)
	return out, nil
}

// SimulateFreeze routes a probe transaction, freezes the named processor the
// way an operator would, and routes the same amount again.
func (a *App) SimulateFreeze(ctx context.Context, opts SimulateFreezeOptions) error {
	if opts.Processor == "" {
		return errors.New("--processor is required")
	}
	if !opts.Amount.IsPositive() {
		return errors.New("--amount must be positive")
	}
	if !a.Config.Alerting.Enabled {
		a.Logger.Warn().Msg("alerting disabled; the freeze will only be logged")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	reg, _, err := a.newRegistry()
	if err != nil {
		return err
	}
	monitor, err := a.newMonitor(reg, nil, store)
	if err != nil {
		return err
	}
	router, err := a.newRouter(reg, nil, store)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	before, err := newCharge(opts.Amount, opts.Currency, "freeze drill (before)", now)
	if err != nil {
		return err
	}
	first, err := router.Process(ctx, before)
	if err != nil {
		return err
	}

	tr, err := monitor.SetHealth(ctx, opts.Processor, payment.HealthFrozen, "freeze drill")
	if err != nil {
		return err
	}

	after, err := newCharge(opts.Amount, opts.Currency, "freeze drill (after)", now.Add(time.Second))
	if err != nil {
		return err
	}
	second, err := router.Process(ctx, after)
	if err != nil {
		return err
	}

	w := a.out()
	fmt.Fprintf(w, "before freeze: %s\n", describeSelection(first))
	fmt.Fprintf(w, "%s: %s -> %s\n", tr.ID, tr.From, tr.To)
	fmt.Fprintf(w, "after freeze:  %s\n", describeSelection(second))
	if reason, ok := second.Final().EliminationReason(opts.Processor); ok {
		fmt.Fprintf(w, "%s eliminated: %s\n", opts.Processor, reason)
	}
	return nil
}

func newCharge(major decimal.Decimal, currency, description string, at time.Time) (payment.Transaction, error) {
	if currency == "" {
		currency = "USD"
	}
	id := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	return payment.NewTransaction(id, payment.ToMinor(major), currency, description, at)
}

func describeSelection(out service.Outcome) string {
	final := out.Final()
	if !final.OK() {
		return string(final.Outcome)
	}
	c, _ := final.SelectedCandidate()
	return fmt.Sprintf("%s (tier %s, fee %s)", final.Selected, final.Tier, payment.FormatMinor(c.Fee, out.Transaction.Currency))
}

func printOutcome(w io.Writer, out service.Outcome) {
	tx := out.Transaction
	fmt.Fprintf(w, "transaction %s  %s\n", tx.ID, payment.FormatMinor(tx.Amount, tx.Currency))
	fmt.Fprintf(w, "risk        %s score=%.1f effort=%s\n", out.Assessment.Tier, out.Assessment.Score, out.Assessment.Effort)
	fmt.Fprintf(w, "rationale   %s\n", out.Assessment.Rationale)
	if summary := out.Report.Summary(); summary != "" {
		fmt.Fprintf(w, "findings    %s\n", summary)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Seq\tKind\tOutcome\tSelected\tFee\tExcluded\tEliminated\tDispatch")
	for i, d := range out.Decisions {
		fee := "-"
		if c, ok := d.SelectedCandidate(); ok {
			fee = payment.FormatMinor(c.Fee, tx.Currency)
		}
		eliminated := make([]string, 0, len(d.Eliminated))
		for _, c := range d.Eliminated {
			eliminated = append(eliminated, c.ProcessorID+"="+string(c.Reason))
		}
		dispatched := "-"
		if i < len(out.Receipts) {
			dispatched = string(out.Receipts[i].Outcome)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Sequence, d.Kind, d.Outcome, orDash(d.Selected), fee,
			orDash(strings.Join(d.Excluded, ",")), orDash(strings.Join(eliminated, ",")), dispatched)
	}
	tw.Flush()
	fmt.Fprintf(w, "status      %s\n", out.Status)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
