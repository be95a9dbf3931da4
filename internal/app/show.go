package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"p2p-spread-alerts/internal/storage"
)

// Show prints recent audit rows, either pair observations or alert emissions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}
	return a.showObservations(ctx, store, opts.Limit)
}

func (a *App) showObservations(ctx context.Context, store *storage.Store, limit int) error {
	observations, err := store.ListRecentObservations(ctx, limit)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPair\tBuy\tSell\tSpread%\tThreshold%\tActive\tStatus\tError")

	for _, obs := range observations {
		errMsg := ""
		if obs.Error != nil {
			errMsg = sanitizeInline(*obs.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s/%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.Fiat,
			obs.Method,
			obs.BuyPrice.StringFixed(4),
			obs.SellPrice.StringFixed(4),
			obs.SpreadPct.StringFixed(4),
			obs.ThresholdPct.StringFixed(2),
			obs.Active,
			obs.Status,
			errMsg,
		)
	}

	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, store *storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alert emissions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPair\tType\tSpread%\tBuy\tSell")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s/%s\t%s\t%s\t%s\t%s\n",
			alert.ObservedAt.UTC().Format(time.RFC3339),
			alert.Fiat,
			alert.Method,
			alert.MessageType,
			alert.SpreadPct.StringFixed(4),
			alert.BuyPrice.StringFixed(4),
			alert.SellPrice.StringFixed(4),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
