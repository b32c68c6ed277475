package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"payment-router/internal/payment"
)

// ExportOptions hold parameters for exporting a batch's time series.
type ExportOptions struct {
	In        string
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Bucket    time.Duration
}

// SeriesPoint aggregates one time bucket of a batch.
type SeriesPoint struct {
	Bucket      time.Time
	Charges     int
	Refunds     int
	Chargebacks int
	Gross       decimal.Decimal
}

// Export renders a batch's bucketed activity as CSV and/or PNG.
func (a *App) Export(_ context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	if opts.Bucket <= 0 {
		opts.Bucket = a.Config.Export.Bucket
	}

	batch, err := readBatchFile(opts.In)
	if err != nil {
		return err
	}

	points := bucketSeries(batch.Transactions, opts.Bucket)
	if len(points) == 0 {
		a.Logger.Info().Msg("batch is empty; nothing to export")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, string(batch.Params.Pattern), downsampled); err != nil {
			return err
		}
	}

	return nil
}

// bucketSeries counts transactions per bucket, including empty buckets
// between the first and last transaction.
func bucketSeries(txs []payment.Transaction, bucket time.Duration) []SeriesPoint {
	if len(txs) == 0 {
		return nil
	}
	byBucket := make(map[time.Time]*SeriesPoint)
	first, last := txs[0].Created, txs[0].Created
	for _, tx := range txs {
		key := tx.Created.UTC().Truncate(bucket)
		p, ok := byBucket[key]
		if !ok {
			p = &SeriesPoint{Bucket: key, Gross: decimal.Zero}
			byBucket[key] = p
		}
		switch tx.Type {
		case payment.TypeCharge:
			p.Charges++
			p.Gross = p.Gross.Add(tx.Amount)
		case payment.TypeRefund:
			p.Refunds++
		case payment.TypeChargeback:
			p.Chargebacks++
		}
		if tx.Created.Before(first) {
			first = tx.Created
		}
		if tx.Created.After(last) {
			last = tx.Created
		}
	}

	var points []SeriesPoint
	for t := first.UTC().Truncate(bucket); !t.After(last.UTC()); t = t.Add(bucket) {
		if p, ok := byBucket[t]; ok {
			points = append(points, *p)
			continue
		}
		points = append(points, SeriesPoint{Bucket: t, Gross: decimal.Zero})
	}
	return points
}

func downsamplePoints(points []SeriesPoint, max int) []SeriesPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[:1]
	}

	result := make([]SeriesPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeSeriesCSV(path string, points []SeriesPoint) error {
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

	header := []string{"bucket_ts", "charges", "refunds", "chargebacks", "gross_minor"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Bucket.Format(time.RFC3339),
			strconv.Itoa(p.Charges),
			strconv.Itoa(p.Refunds),
			strconv.Itoa(p.Chargebacks),
			p.Gross.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path, title string, points []SeriesPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	charges := make([]float64, len(points))
	refunds := make([]float64, len(points))
	chargebacks := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.Bucket
		charges[i] = float64(p.Charges)
		refunds[i] = float64(p.Refunds)
		chargebacks[i] = float64(p.Chargebacks)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Charges",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Reversals",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Charges",
				XValues: x,
				YValues: charges,
			},
			chart.TimeSeries{
				Name:    "Refunds",
				XValues: x,
				YValues: refunds,
				YAxis:   chart.YAxisSecondary,
			},
			chart.TimeSeries{
				Name:    "Chargebacks",
				XValues: x,
				YValues: chargebacks,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	if maxOf(charges) == 0 {
		graph.YAxis.Range = &chart.ContinuousRange{Min: 0, Max: 1}
	}
	if math.Max(maxOf(refunds), maxOf(chargebacks)) == 0 {
		graph.YAxisSecondary.Range = &chart.ContinuousRange{Min: 0, Max: 1}
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func maxOf(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
