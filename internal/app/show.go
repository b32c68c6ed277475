package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"payment-router/internal/payment"
	"payment-router/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Events bool
}

// Show prints recent audited decisions, or health events with Events set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show audit records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Events {
		return a.showEvents(ctx, store, opts.Limit)
	}

	decisions, err := store.ListRecentDecisions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Fprintln(a.out(), "no decisions found")
		return nil
	}

	total, err := store.CountDecisions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out(), "showing %d of %d decisions\n", len(decisions), total)

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSeq\tTransaction\tAmount\tTier\tKind\tOutcome\tSelected\tDispatch\tExcluded")

	for _, d := range decisions {
		selected, dispatched := "-", "-"
		if d.Selected != nil {
			selected = *d.Selected
		}
		if d.DispatchOutcome != nil {
			dispatched = *d.DispatchOutcome
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DecidedAt.UTC().Format(time.RFC3339),
			d.Sequence,
			d.TransactionID,
			payment.FormatMinor(d.Amount, d.Currency),
			d.Tier,
			d.Kind,
			d.Outcome,
			selected,
			dispatched,
			orDash(strings.Join(d.Excluded, ",")),
		)
	}

	writer.Flush()
	return nil
}

type healthEventLister interface {
	ListRecentHealthEvents(ctx context.Context, limit int) ([]storage.HealthEvent, error)
}

func (a *App) showEvents(ctx context.Context, store healthEventLister, limit int) error {
	events, err := store.ListRecentHealthEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out(), "no health events found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tProcessor\tFrom\tTo\tSuccess\tLatency (ms)\tReason")
	for _, ev := range events {
		success, latency := "-", "-"
		if ev.SuccessRate != nil {
			success = fmt.Sprintf("%.3f", *ev.SuccessRate)
		}
		if ev.LatencyMS != nil {
			latency = fmt.Sprintf("%d", *ev.LatencyMS)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.ProcessorID,
			ev.FromHealth,
			ev.ToHealth,
			success,
			latency,
			sanitizeInline(ev.Reason),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
