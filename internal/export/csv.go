package export

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/dukafetch/dukafetch/internal/market"
)

// csvBar is the delimited-text row layout: one line per bar, no header.
type csvBar struct {
	Date       string `csv:"date"`
	Time       string `csv:"time"`
	Open       string `csv:"open"`
	High       string `csv:"high"`
	Low        string `csv:"low"`
	Close      string `csv:"close"`
	Volume     int64  `csv:"volume"`
	Spread     int    `csv:"spread"`
	RealVolume int64  `csv:"real_volume"`
}

// WriteCSV writes the bar series as headerless CSV, one line per bar:
// date, time, open, high, low, close, volume, spread, real volume.
func WriteCSV(path string, bars []market.Bar) error {
	rows := make([]csvBar, 0, len(bars))
	for _, bar := range bars {
		rows = append(rows, csvBar{
			Date:       bar.Time.Format("2006.01.02"),
			Time:       bar.Time.Format("15:04"),
			Open:       formatPrice(bar.Open),
			High:       formatPrice(bar.High),
			Low:        formatPrice(bar.Low),
			Close:      formatPrice(bar.Close),
			Volume:     bar.Volume,
			Spread:     bar.Spread,
			RealVolume: bar.RealVolume,
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalWithoutHeaders(&rows, f); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// formatPrice prints the shortest decimal representation, matching the report
// format readers of these files expect (1.1, not 1.100000).
func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
