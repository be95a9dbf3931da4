package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"p2p-spread-alerts/internal/storage"
)

// Export renders one pair's audit history as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Fiat == "" || opts.Method == "" {
		return errors.New("--fiat and --method are required")
	}

	opts.Fiat = strings.ToUpper(opts.Fiat)
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Pairs.RefreshInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	observations, err := store.ListPairObservationsBetween(ctx, opts.Fiat, opts.Method, from, to)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.Logger.Info().Str("fiat", opts.Fiat).Str("method", opts.Method).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleObservations(observations, opts.MaxPoints)
	a.Logger.Info().Int("total", len(observations)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeObservationsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeObservationsPNG(opts.PNGPath, opts.Fiat, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleObservations(observations []storage.Observation, max int) []storage.Observation {
	if max <= 0 || len(observations) <= max {
		return observations
	}

	result := make([]storage.Observation, 0, max)
	step := float64(len(observations)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(observations) {
			idx = len(observations) - 1
		}
		result = append(result, observations[idx])
	}
	return result
}

func writeObservationsCSV(path string, observations []storage.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "fiat", "method", "buy_price", "sell_price", "spread_pct", "threshold_pct", "active", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, obs := range observations {
		errMsg := ""
		if obs.Error != nil {
			errMsg = *obs.Error
		}
		active := "false"
		if obs.Active {
			active = "true"
		}
		record := []string{
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.Fiat,
			obs.Method,
			obs.BuyPrice.String(),
			obs.SellPrice.String(),
			obs.SpreadPct.String(),
			obs.ThresholdPct.String(),
			active,
			obs.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeObservationsPNG(path, fiat string, observations []storage.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(observations))
	buy := make([]float64, len(observations))
	sell := make([]float64, len(observations))
	spread := make([]float64, len(observations))

	for i, obs := range observations {
		x[i] = obs.ObservedAt
		buy[i] = obs.BuyPrice.InexactFloat64()
		sell[i] = obs.SellPrice.InexactFloat64()
		spread[i] = obs.SpreadPct.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (" + fiat + "/USDT)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Spread (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Buy side",
				XValues: x,
				YValues: buy,
			},
			chart.TimeSeries{
				Name:    "Sell side",
				XValues: x,
				YValues: sell,
			},
			chart.TimeSeries{
				Name:    "Spread %",
				XValues: x,
				YValues: spread,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
