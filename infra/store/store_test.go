package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/arrivalcast/core/errorstate"
	"github.com/kilianp07/arrivalcast/core/model"
)

var base = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *EventStore {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEvent(vehicle string, offset time.Duration) model.ArrivalDeparture {
	return model.ArrivalDeparture{VehicleID: vehicle, TripID: "t1", RouteID: "r1", StopID: "s1", StopPathIndex: 1, IsArrival: true, Time: base.Add(offset)}
}

func exerciseEvents(t *testing.T, s *EventStore) {
	ctx := context.Background()
	a := sampleEvent("v1", 0)
	b := sampleEvent("v2", time.Hour)
	c := sampleEvent("v3", 48*time.Hour)
	require.NoError(t, s.Append(ctx, a, b, c))
	require.NoError(t, s.Append(ctx, a), "redelivered events are ignored")

	got, err := s.LoadRange(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Same(a))
	assert.True(t, got[1].Same(b))

	n, err := s.Prune(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	got, err = s.LoadRange(ctx, base, base.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v3", got[0].VehicleID)
}

func exerciseErrors(t *testing.T, s *EventStore) {
	ctx := context.Background()
	seg := model.SegmentKey{Group: "t1", StopPathIndex: 3}
	require.NoError(t, s.SaveErrors(ctx, []errorstate.Entry{
		{Namespace: model.NamespaceTravelTime, Segment: seg, Value: 12.5},
		{Namespace: model.NamespaceDwell, Segment: seg, Value: 3},
	}))
	require.NoError(t, s.SaveErrors(ctx, []errorstate.Entry{{Namespace: model.NamespaceTravelTime, Segment: seg, Value: 7}}))

	got, err := s.LoadErrors(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, errorstate.Entry{Namespace: model.NamespaceTravelTime, Segment: seg, Value: 7}, got[0])
	assert.Equal(t, errorstate.Entry{Namespace: model.NamespaceDwell, Segment: seg, Value: 3}, got[1])

	es := errorstate.New()
	es.Restore(got)
	assert.Equal(t, 7.0, es.Get(seg, model.NamespaceTravelTime, 100))
}

func TestSQLiteEvents(t *testing.T) { exerciseEvents(t, openSQLite(t)) }

func TestSQLiteErrors(t *testing.T) { exerciseErrors(t, openSQLite(t)) }

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	s := &EventStore{driver: DriverPgx}
	assert.Equal(t, "WHERE a = $1 AND b = $2", s.rebind("WHERE a = ? AND b = ?"))
	assert.Equal(t, "VALUES ($1, $2, $3)", s.rebind("VALUES (?, ?, ?)"))
	s.driver = DriverSQLite
	assert.Equal(t, "VALUES (?, ?)", s.rebind("VALUES (?, ?)"))
}
