package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"payment-router/internal/payment"
	"payment-router/internal/service"
	"payment-router/internal/storage"
)

// ReplayOptions configure routing a stored batch.
type ReplayOptions struct {
	In      string
	Workers int
	DryRun  bool
}

// ReplaySummary counts replay outcomes.
type ReplaySummary struct {
	Processed   int
	Failed      int
	ByStatus    map[service.Status]int
	ByProcessor map[string]int
}

// Replay routes every charge of a batch in creation order. Reversals are fed
// into the rolling window as they occur. With more than one worker, charges
// close together in time may see slightly different windows between runs.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) (ReplaySummary, error) {
	batch, err := readBatchFile(opts.In)
	if err != nil {
		return ReplaySummary{}, err
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("replay dry-run: decisions will not be persisted")
	} else {
		var closeStore func()
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return ReplaySummary{}, err
		}
		if store == nil {
			return ReplaySummary{}, errors.New("database.dsn not configured; use --dry-run to replay without persistence")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	reg, procs, err := a.newRegistry()
	if err != nil {
		return ReplaySummary{}, err
	}
	dispatcher, err := a.newDispatcher(procs)
	if err != nil {
		return ReplaySummary{}, err
	}
	router, err := a.newRouter(reg, dispatcher, store)
	if err != nil {
		return ReplaySummary{}, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	summary := ReplaySummary{ByStatus: make(map[service.Status]int), ByProcessor: make(map[string]int)}
	var mu sync.Mutex
	record := func(out service.Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.Failed++
			return
		}
		summary.Processed++
		summary.ByStatus[out.Status]++
		if final := out.Final(); final.OK() {
			summary.ByProcessor[final.Selected]++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, tx := range batch.Transactions {
		if gctx.Err() != nil {
			break
		}
		if tx.Type != payment.TypeCharge {
			router.Observe(tx)
			continue
		}
		tx := tx
		g.Go(func() error {
			out, err := router.Process(gctx, tx)
			if err != nil {
				a.Logger.Error().Err(err).Str("tx", tx.ID).Msg("replay failed")
			}
			record(out, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	a.Logger.Info().Int("processed", summary.Processed).Int("failed", summary.Failed).Msg("replay complete")
	printReplaySummary(a, summary)
	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d transactions failed to replay; see logs", summary.Failed)
	}
	return summary, nil
}

func printReplaySummary(a *App, s ReplaySummary) {
	tw := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Status\tCount")
	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%d\n", st, s.ByStatus[service.Status(st)])
	}
	fmt.Fprintln(tw, "\t")
	fmt.Fprintln(tw, "Processor\tSelected")
	ids := make([]string, 0, len(s.ByProcessor))
	for id := range s.ByProcessor {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%d\n", id, s.ByProcessor[id])
	}
	tw.Flush()
}
