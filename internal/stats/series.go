package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/roach88/meshtrace/internal/bundle"
)

// Point is one row of the replication series: after the observation on
// TabletID at Timestamp, Count copies of FileID exist.
type Point struct {
	FileID    string `json:"file_id"`
	TabletID  string `json:"tablet_id"`
	Timestamp int64  `json:"timestamp"` // epoch ms
	Count     int    `json:"count"`
}

// SeriesHeader is the header row of the replication series CSV.
var SeriesHeader = []string{"file_id", "tablet_id", "timestamp", "count"}

// Series streams the replication series of the engine's table.
func (e *Engine) Series(ctx context.Context) iter.Seq2[Point, error] {
	return ReplicationSeries(e.store.TimestampedObservations(ctx, e.table))
}

// ReplicationSeries turns observations ordered by (file id, insert time) into
// running copy counts. The count starts at 1 for the first observation of a
// file id and resets on every change of file id. Observations without an
// insert time are skipped. The sequence is as single-pass as its source, and
// the first source error is yielded and ends it.
func ReplicationSeries(events iter.Seq2[bundle.Observation, error]) iter.Seq2[Point, error] {
	return func(yield func(Point, error) bool) {
		current := ""
		count := 0
		started := false

		for o, err := range events {
			if err != nil {
				yield(Point{}, err)
				return
			}
			if !o.HasInsertTime() {
				continue
			}

			if !started || o.FileID != current {
				current = o.FileID
				count = 0
				started = true
			}
			count++

			if !yield(Point{FileID: o.FileID, TabletID: o.TabletID, Timestamp: o.FileInsertTime.Int64, Count: count}, nil) {
				return
			}
		}
	}
}

// WriteSeriesCSV writes the header and one row per point, returning the
// number of points written. A sequence error stops the write and is returned.
func WriteSeriesCSV(w io.Writer, seq iter.Seq2[Point, error]) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(SeriesHeader); err != nil {
		return 0, fmt.Errorf("write series header: %w", err)
	}

	n := 0
	for p, err := range seq {
		if err != nil {
			cw.Flush()
			return n, err
		}
		record := []string{
			p.FileID,
			p.TabletID,
			strconv.FormatInt(p.Timestamp, 10),
			strconv.Itoa(p.Count),
		}
		if err := cw.Write(record); err != nil {
			return n, fmt.Errorf("write series row: %w", err)
		}
		n++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush series: %w", err)
	}
	return n, nil
}

// CurveMinutes is the span of the replication curve.
const CurveMinutes = 24 * 60

// CurvePoint is the average copy count of a bundle Minute minutes after its
// first sighting, over the bundles still being observed at that minute.
type CurvePoint struct {
	Minute  int     `json:"minute"`
	Average float64 `json:"average"`
}

// ReplicationCurve averages the series into per-minute buckets over the first
// 24 hours after each bundle's first sighting.
//
// For each bundle, every whole minute between two consecutive observations
// is credited with the count held during that minute. Minutes after a
// bundle's last observation are not credited, so a bucket averages over the
// bundles still replicating at that point. Minutes no bundle covers are
// omitted.
func ReplicationCurve(seq iter.Seq2[Point, error]) ([]CurvePoint, error) {
	var (
		sums   [CurveMinutes]int64
		counts [CurveMinutes]int64

		current   string
		started   bool
		first     int64
		lastMin   int
		lastCount int
	)

	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		if !started || p.FileID != current {
			current = p.FileID
			started = true
			first = p.Timestamp
			lastMin = 0
			lastCount = 0
		}

		minute := (p.Timestamp - first) / 60000
		if minute < 0 || minute >= CurveMinutes {
			continue
		}
		for ; lastMin < int(minute); lastMin++ {
			sums[lastMin] += int64(lastCount)
			counts[lastMin]++
		}
		lastCount = p.Count
	}

	var curve []CurvePoint
	for i := range CurveMinutes {
		if counts[i] == 0 {
			continue
		}
		curve = append(curve, CurvePoint{Minute: i, Average: float64(sums[i]) / float64(counts[i])})
	}
	return curve, nil
}

// WriteCurveCSV writes the curve with header minutes,count.
func WriteCurveCSV(w io.Writer, curve []CurvePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"minutes", "count"}); err != nil {
		return fmt.Errorf("write curve header: %w", err)
	}
	for _, c := range curve {
		if err := cw.Write([]string{strconv.Itoa(c.Minute), strconv.FormatFloat(c.Average, 'f', 6, 64)}); err != nil {
			return fmt.Errorf("write curve row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
