package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/arrivalcast/core/model"
)

// WriteJSON writes the divergence events to w in JSON format.
func WriteJSON(w io.Writer, events []model.DivergenceEvent) error {
	enc := json.NewEncoder(w)
	return enc.Encode(events)
}

// WriteCSV writes the divergence events to w in CSV format. Durations are
// in milliseconds.
func WriteCSV(w io.Writer, events []model.DivergenceEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "vehicle_id", "stop_id", "group", "stop_path_index", "kalman_ms", "fallback_ms", "percent"}); err != nil {
		return err
	}
	for _, e := range events {
		rec := []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339),
			e.VehicleID,
			e.StopID,
			e.Segment.Group,
			strconv.Itoa(e.Segment.StopPathIndex),
			strconv.FormatInt(e.Kalman.Milliseconds(), 10),
			strconv.FormatInt(e.Fallback.Milliseconds(), 10),
			strconv.FormatFloat(e.Percent, 'f', 1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
