package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/dukafetch/dukafetch/internal/market"
)

const (
	hstVersion       = 501
	hstCopyright     = "Dukascopy to MT5"
	hstCopyrightSize = 64
	hstSymbolSize    = 12
	hstReservedInts  = 13
)

// WriteHST writes the fixed binary history layout: a versioned header followed
// by one fixed-size little-endian record per bar.
func WriteHST(path string, bars []market.Bar, symbol string, digits, timeframeMinutes int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create hst file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHSTHeader(w, symbol, digits, timeframeMinutes); err != nil {
		return err
	}

	for _, bar := range bars {
		record := []any{
			bar.Time.Unix(),
			bar.Open,
			bar.High,
			bar.Low,
			bar.Close,
			bar.Volume,
			int32(bar.Spread),
			bar.RealVolume,
		}
		for _, field := range record {
			if err := binary.Write(w, binary.LittleEndian, field); err != nil {
				return fmt.Errorf("write hst record: %w", err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush hst file: %w", err)
	}
	return nil
}

func writeHSTHeader(w *bufio.Writer, symbol string, digits, timeframeMinutes int) error {
	now := int32(time.Now().UTC().Unix())
	fields := []any{
		int32(hstVersion),
		fixedString(hstCopyright, hstCopyrightSize),
		fixedString(symbol, hstSymbolSize),
		int32(timeframeMinutes),
		int32(digits),
		now,
		now,
	}
	for i := 0; i < hstReservedInts; i++ {
		fields = append(fields, int32(0))
	}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write hst header: %w", err)
		}
	}
	return nil
}

func fixedString(value string, length int) []byte {
	out := make([]byte, length)
	copy(out, value)
	return out
}
