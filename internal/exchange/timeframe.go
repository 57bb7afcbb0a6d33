package exchange

import (
	"fmt"
	"strconv"
	"time"
)

var timeframeUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'M': 30 * 24 * time.Hour,
	'y': 365 * 24 * time.Hour,
}

// ParseTimeframe converts a timeframe such as "5m" or "1d" to its duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	unit, ok := timeframeUnits[tf[len(tf)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid timeframe %q: unknown unit", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q: bad amount", tf)
	}
	return time.Duration(n) * unit, nil
}

// MustParseTimeframe is ParseTimeframe for timeframes known to be valid.
func MustParseTimeframe(tf string) time.Duration {
	d, err := ParseTimeframe(tf)
	if err != nil {
		panic(err)
	}
	return d
}

// TimeframeToSeconds returns the length of one timeframe period in seconds.
func TimeframeToSeconds(tf string) (int64, error) {
	d, err := ParseTimeframe(tf)
	return int64(d / time.Second), err
}

// TimeframeToMinutes returns the length of one timeframe period in whole minutes.
func TimeframeToMinutes(tf string) (int64, error) {
	d, err := ParseTimeframe(tf)
	return int64(d / time.Minute), err
}

// TimeframeToMsecs returns the length of one timeframe period in milliseconds.
func TimeframeToMsecs(tf string) (int64, error) {
	d, err := ParseTimeframe(tf)
	return d.Milliseconds(), err
}

// TimeframeToPrevDate returns the start of the candle containing t.
func TimeframeToPrevDate(tf string, t time.Time) (time.Time, error) {
	d, err := ParseTimeframe(tf)
	if err != nil {
		return time.Time{}, err
	}
	ms := d.Milliseconds()
	ts := t.UnixMilli()
	return time.UnixMilli(ts - ts%ms).UTC(), nil
}

// TimeframeToNextDate returns the start of the candle following the one containing t.
func TimeframeToNextDate(tf string, t time.Time) (time.Time, error) {
	prev, err := TimeframeToPrevDate(tf, t)
	if err != nil {
		return time.Time{}, err
	}
	return prev.Add(MustParseTimeframe(tf)), nil
}
