package stats

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

// NoData is rendered for a metric whose query produced no value.
const NoData = "no data"

// Unit tells how a metric value is rendered.
type Unit int

const (
	UnitCount Unit = iota
	UnitBytes
	UnitMillis
	UnitRatio
)

func (u Unit) String() string {
	switch u {
	case UnitBytes:
		return "bytes"
	case UnitMillis:
		return "milliseconds"
	case UnitRatio:
		return "ratio"
	default:
		return "count"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// Metric is one computed figure.
type Metric struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Unit  Unit    `json:"unit"`
	Value float64 `json:"value"`
	// Valid is false when the underlying aggregate was NULL.
	Valid bool `json:"valid"`
}

// Text renders the value for the report.
func (m Metric) Text() string {
	if !m.Valid {
		return NoData
	}
	switch m.Unit {
	case UnitBytes:
		return humanize.IBytes(uint64(math.Max(0, math.Round(m.Value))))
	case UnitMillis:
		return FormatDuration(int64(m.Value)) + " (H:M:S)"
	case UnitRatio:
		return strconv.FormatFloat(m.Value, 'f', 2, 64)
	default:
		return strconv.FormatInt(int64(m.Value), 10)
	}
}

// Report is the output of the statistics battery.
type Report struct {
	Table   string   `json:"table"`
	Metrics []Metric `json:"metrics"`
}

// Metric returns the metric with the given key.
func (r *Report) Metric(key string) (Metric, bool) {
	for _, m := range r.Metrics {
		if m.Key == key {
			return m, true
		}
	}
	return Metric{}, false
}

// WriteText renders a header line followed by one line per metric in
// computation order.
func (r *Report) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Statistical analysis for table: %s\n", r.Table)
	for _, m := range r.Metrics {
		fmt.Fprintf(bw, "%s: %s\n", m.Label, m.Text())
	}
	return bw.Flush()
}

// FormatDuration renders milliseconds as unpadded hours:minutes:seconds.
// Fractions of a second are truncated.
func FormatDuration(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	secs := ms / 1000
	return fmt.Sprintf("%s%d:%d:%d", sign, secs/3600, (secs/60)%60, secs%60)
}
