// Package codec decodes Dukascopy bi5 archives: an LZMA-compressed block of
// fixed-size big-endian records.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"github.com/dukafetch/dukafetch/internal/market"
)

const (
	// TickRecordSize is one tick record: int32 ms offset, int32 bid, int32 ask,
	// float32 bid volume, float32 ask volume. All big-endian.
	TickRecordSize = 20

	// BarRecordSize is one minute-bar record: int32 second offset, int32 open,
	// int32 high, int32 low, int32 close, float32 volume. All big-endian.
	BarRecordSize = 24

	lzmaPropsSize  = 5
	lzmaHeaderSize = lzmaPropsSize + 8

	// The classic lzma header uses all-ones as "size unknown, end marker follows".
	sizeUnknown = ^uint64(0)
)

// ErrInvalidData reports a malformed or truncated compressed block.
var ErrInvalidData = errors.New("codec: invalid compressed data")

// Decompress decodes a classic LZMA block: 5 property bytes, an 8-byte
// little-endian uncompressed size, then the compressed payload.
func Decompress(compressed []byte) ([]byte, error) {
	if len(compressed) < lzmaPropsSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d property bytes", ErrInvalidData, len(compressed), lzmaPropsSize)
	}
	if len(compressed) < lzmaHeaderSize {
		return nil, fmt.Errorf("%w: missing uncompressed size", ErrInvalidData)
	}

	declared := binary.LittleEndian.Uint64(compressed[lzmaPropsSize:lzmaHeaderSize])

	r, err := lzma.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrInvalidData, err)
	}

	if declared != sizeUnknown && uint64(len(out)) != declared {
		return nil, fmt.Errorf("%w: decompressed %d bytes, header declares %d", ErrInvalidData, len(out), declared)
	}

	return out, nil
}

// DecodeTicks parses raw tick records against the hour bucket they belong to.
// A trailing partial record is discarded.
func DecodeTicks(raw []byte, hourStart time.Time, digits int) []market.Tick {
	ticks := make([]market.Tick, 0, len(raw)/TickRecordSize)
	scale := market.Scale(digits)

	for off := 0; off+TickRecordSize <= len(raw); off += TickRecordSize {
		ms := int32(binary.BigEndian.Uint32(raw[off:]))
		bid := int32(binary.BigEndian.Uint32(raw[off+4:]))
		ask := int32(binary.BigEndian.Uint32(raw[off+8:]))
		bidVol := math.Float32frombits(binary.BigEndian.Uint32(raw[off+12:]))
		askVol := math.Float32frombits(binary.BigEndian.Uint32(raw[off+16:]))

		ticks = append(ticks, market.Tick{
			Time:      hourStart.Add(time.Duration(ms) * time.Millisecond),
			Bid:       float64(bid) / scale,
			Ask:       float64(ask) / scale,
			BidVolume: bidVol,
			AskVolume: askVol,
		})
	}

	return ticks
}

// DecodeBars parses raw minute-bar records against the day bucket they belong
// to. Spread and real volume are not carried by this record kind and stay zero.
// A trailing partial record is discarded.
func DecodeBars(raw []byte, dayStart time.Time, digits int) []market.Bar {
	bars := make([]market.Bar, 0, len(raw)/BarRecordSize)
	scale := market.Scale(digits)

	for off := 0; off+BarRecordSize <= len(raw); off += BarRecordSize {
		sec := int32(binary.BigEndian.Uint32(raw[off:]))
		open := int32(binary.BigEndian.Uint32(raw[off+4:]))
		high := int32(binary.BigEndian.Uint32(raw[off+8:]))
		low := int32(binary.BigEndian.Uint32(raw[off+12:]))
		closePx := int32(binary.BigEndian.Uint32(raw[off+16:]))
		vol := math.Float32frombits(binary.BigEndian.Uint32(raw[off+20:]))

		bars = append(bars, market.Bar{
			Time:   dayStart.Add(time.Duration(sec) * time.Second),
			Open:   float64(open) / scale,
			High:   float64(high) / scale,
			Low:    float64(low) / scale,
			Close:  float64(closePx) / scale,
			Volume: int64(math.Round(float64(vol))),
		})
	}

	return bars
}
