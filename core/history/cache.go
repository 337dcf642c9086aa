// Package history caches arrival/departure events per trip instance and per
// stop so that travel and dwell times of previous days and previous vehicles
// can be looked up without touching the database.
package history

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/arrivalcast/core/logger"
	"github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
)

// ErrInconsistent is returned when a bucket snapshot is not ordered. It
// cannot happen with a correct Backend and is reported rather than repaired.
var ErrInconsistent = errors.New("history: inconsistent bucket")

// Cache names used in metrics.
const (
	CacheTrip = "trip"
	CacheStop = "stop"
)

// Config controls bucketing and retention.
type Config struct {
	// DaysBack is the number of consecutive day buckets, starting with the
	// event's own service day, each event is written into.
	DaysBack int
	// MaxAge is the age after which a bucket is dropped.
	MaxAge time.Duration
	// FrequencyBucket is the rounding applied to frequency start times.
	FrequencyBucket time.Duration
	// Location defines service day boundaries. Defaults to UTC.
	Location *time.Location
}

// SetDefaults replaces non-positive values with the defaults.
func (c *Config) SetDefaults() {
	if c.DaysBack <= 0 {
		c.DaysBack = 1
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 15 * 24 * time.Hour
	}
	if c.FrequencyBucket <= 0 {
		c.FrequencyBucket = 5 * time.Minute
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Cache indexes events by TripKey and StopKey.
type Cache struct {
	cfg     Config
	trips   Backend[model.TripKey]
	stops   Backend[model.StopKey]
	log     logger.Logger
	metrics metrics.MetricsSink
	now     func() time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithTripBackend replaces the in-memory trip index.
func WithTripBackend(b Backend[model.TripKey]) Option { return func(c *Cache) { c.trips = b } }

// WithStopBackend replaces the in-memory stop index.
func WithStopBackend(b Backend[model.StopKey]) Option { return func(c *Cache) { c.stops = b } }

// WithClock sets the clock used for eviction.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New creates a Cache. log and sink may be nil.
func New(cfg Config, log logger.Logger, sink metrics.MetricsSink, opts ...Option) *Cache {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c := &Cache{
		cfg:     cfg,
		trips:   NewMemoryBackend[model.TripKey](),
		stops:   NewMemoryBackend[model.StopKey](),
		log:     log,
		metrics: sink,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Cache) Config() Config { return c.cfg }

// Location returns the time zone defining service days.
func (c *Cache) Location() *time.Location { return c.cfg.Location }

// TripKeyFor derives the bucket key of ev on its own service day.
func (c *Cache) TripKeyFor(ev model.ArrivalDeparture) model.TripKey {
	day := model.ServiceDay(ev.Time, c.cfg.Location)
	start := ev.TripStartSeconds
	if ev.FreqStartTime != nil {
		fs := ev.FreqStartTime.In(c.cfg.Location)
		day = model.ServiceDay(fs, c.cfg.Location)
		start = roundSeconds(int(fs.Sub(day)/time.Second), int(c.cfg.FrequencyBucket/time.Second))
	}
	return model.TripKey{
		RouteID:     ev.RouteID,
		DirectionID: ev.DirectionID,
		ServiceDay:  day.Unix(),
		StartTime:   start,
	}
}

// StopKeyFor derives the stop index key of ev.
func (c *Cache) StopKeyFor(ev model.ArrivalDeparture) model.StopKey {
	return c.StopKeyAt(ev.StopID, ev.Time)
}

// StopKeyAt returns the stop index key for stopID on the service day of t.
func (c *Cache) StopKeyAt(stopID string, t time.Time) model.StopKey {
	return model.StopKey{StopID: stopID, ServiceDay: model.ServiceDay(t, c.cfg.Location).Unix()}
}

func roundSeconds(secs, bucket int) int {
	if bucket <= 1 {
		return secs
	}
	return ((secs + bucket/2) / bucket) * bucket
}

// Put adds ev to its trip buckets and to the stop index. Re-delivered
// events with an identity already present are ignored.
func (c *Cache) Put(ev model.ArrivalDeparture) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	key := c.TripKeyFor(ev)
	for i := 0; i < c.cfg.DaysBack; i++ {
		k := key.DaysBefore(i, c.cfg.Location)
		day := k.Day(c.cfg.Location)
		c.trips.Update(k, func(old *Bucket) *Bucket {
			return merge(old, day, []model.ArrivalDeparture{ev}, model.Less)
		})
	}
	sk := c.StopKeyFor(ev)
	c.stops.Update(sk, func(old *Bucket) *Bucket {
		return merge(old, sk.Day(c.cfg.Location), []model.ArrivalDeparture{ev}, newestFirst)
	})
	return nil
}

// newestFirst orders the stop index with the most recent event first.
func newestFirst(a, b model.ArrivalDeparture) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.After(b.Time)
	}
	return a.IsArrival && !b.IsArrival
}

// merge returns a new bucket holding old's events plus add, ordered by less
// and without duplicate identities. It returns nil when nothing changes.
func merge(old *Bucket, day time.Time, add []model.ArrivalDeparture, less func(a, b model.ArrivalDeparture) bool) *Bucket {
	var cur []model.ArrivalDeparture
	if old != nil {
		cur = old.Events
		day = old.Day
	}
	if len(add) == 1 {
		return insert(cur, day, add[0], less)
	}
	seen := make(map[string]struct{}, len(cur)+len(add))
	for _, e := range cur {
		seen[e.Identity()] = struct{}{}
	}
	fresh := make([]model.ArrivalDeparture, 0, len(add))
	for _, e := range add {
		id := e.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil
	}
	events := make([]model.ArrivalDeparture, 0, len(cur)+len(fresh))
	events = append(events, cur...)
	events = append(events, fresh...)
	sort.SliceStable(events, func(i, j int) bool { return less(events[i], events[j]) })
	return &Bucket{Day: day, Events: events}
}

func insert(cur []model.ArrivalDeparture, day time.Time, ev model.ArrivalDeparture, less func(a, b model.ArrivalDeparture) bool) *Bucket {
	for _, e := range cur {
		if e.Same(ev) {
			return nil
		}
	}
	i := sort.Search(len(cur), func(i int) bool { return less(ev, cur[i]) })
	events := make([]model.ArrivalDeparture, len(cur)+1)
	copy(events, cur[:i])
	events[i] = ev
	copy(events[i+1:], cur[i:])
	return &Bucket{Day: day, Events: events}
}

// History returns a copy of the events of the trip bucket, ordered by trip
// index and stop path index, or nil.
func (c *Cache) History(key model.TripKey) []model.ArrivalDeparture {
	events, err := c.tripSnapshot(key)
	if err != nil {
		c.log.Errorf("trip bucket %s: %v", key, err)
		return nil
	}
	return events
}

// StopHistory returns a copy of the events observed at a stop on a service
// day, most recent first, or nil.
func (c *Cache) StopHistory(key model.StopKey) []model.ArrivalDeparture {
	events, err := c.stopSnapshot(key)
	if err != nil {
		c.log.Errorf("stop bucket %s: %v", key, err)
		return nil
	}
	return events
}

func (c *Cache) tripSnapshot(key model.TripKey) ([]model.ArrivalDeparture, error) {
	return snapshot(c, CacheTrip, c.trips, key, model.Less)
}

func (c *Cache) stopSnapshot(key model.StopKey) ([]model.ArrivalDeparture, error) {
	return snapshot(c, CacheStop, c.stops, key, newestFirst)
}

func snapshot[K comparable](c *Cache, name string, b Backend[K], key K, less func(a, b model.ArrivalDeparture) bool) ([]model.ArrivalDeparture, error) {
	bucket, ok := b.Load(key)
	if ok && c.expired(bucket, c.now()) {
		b.Delete(key)
		ok = false
	}
	c.recordLookup(name, ok)
	if !ok {
		return nil, nil
	}
	for i := 1; i < len(bucket.Events); i++ {
		if less(bucket.Events[i], bucket.Events[i-1]) {
			return nil, fmt.Errorf("%w: %s bucket out of order at %d", ErrInconsistent, name, i)
		}
	}
	out := make([]model.ArrivalDeparture, len(bucket.Events))
	copy(out, bucket.Events)
	return out, nil
}

func (c *Cache) recordLookup(name string, hit bool) {
	if rec, ok := c.metrics.(metrics.CacheLookupRecorder); ok {
		_ = rec.RecordCacheLookup(metrics.CacheLookupEvent{Cache: name, Hit: hit})
	}
}

func (c *Cache) expired(b *Bucket, now time.Time) bool {
	return now.Sub(b.Day) > c.cfg.MaxAge
}

// PopulateStats summarises a warm start.
type PopulateStats struct {
	Loaded  int
	Skipped int
}

// PopulateFromDB warms the cache with events read in bulk. Events are
// grouped per key locally first and every key is merged with a single
// update. Applying the same events again leaves the cache unchanged.
func (c *Cache) PopulateFromDB(events []model.ArrivalDeparture) PopulateStats {
	var st PopulateStats
	trips := make(map[model.TripKey][]model.ArrivalDeparture)
	stops := make(map[model.StopKey][]model.ArrivalDeparture)
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			c.log.Warnf("skipping event during warm start: %v", err)
			st.Skipped++
			continue
		}
		key := c.TripKeyFor(ev)
		for i := 0; i < c.cfg.DaysBack; i++ {
			k := key.DaysBefore(i, c.cfg.Location)
			trips[k] = append(trips[k], ev)
		}
		sk := c.StopKeyFor(ev)
		stops[sk] = append(stops[sk], ev)
		st.Loaded++
	}
	for k, evs := range trips {
		day := k.Day(c.cfg.Location)
		c.trips.Update(k, func(old *Bucket) *Bucket { return merge(old, day, evs, model.Less) })
	}
	for k, evs := range stops {
		day := k.Day(c.cfg.Location)
		c.stops.Update(k, func(old *Bucket) *Bucket { return merge(old, day, evs, newestFirst) })
	}
	c.log.Infof("warm start loaded %d events into %d trip and %d stop buckets", st.Loaded, len(trips), len(stops))
	return st
}

// Sweep removes every bucket older than the configured max age and returns
// how many were removed.
func (c *Cache) Sweep(now time.Time) int {
	removed := sweep(c, c.trips, now) + sweep(c, c.stops, now)
	if rec, ok := c.metrics.(metrics.CacheSizeRecorder); ok {
		st := c.Stats()
		_ = rec.RecordCacheSize(CacheTrip, st.TripBuckets)
		_ = rec.RecordCacheSize(CacheStop, st.StopBuckets)
	}
	return removed
}

func sweep[K comparable](c *Cache, b Backend[K], now time.Time) int {
	var stale []K
	b.Range(func(k K, bucket *Bucket) bool {
		if c.expired(bucket, now) {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		b.Delete(k)
	}
	return len(stale)
}

// Stats describes the cache content.
type Stats struct {
	TripBuckets int `json:"trip_buckets"`
	StopBuckets int `json:"stop_buckets"`
	TripEvents  int `json:"trip_events"`
}

// Stats counts buckets and events.
func (c *Cache) Stats() Stats {
	var st Stats
	c.trips.Range(func(_ model.TripKey, b *Bucket) bool {
		st.TripBuckets++
		st.TripEvents += b.Len()
		return true
	})
	st.StopBuckets = c.stops.Len()
	return st
}
