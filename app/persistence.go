package app

import (
	"context"
	"time"
)

// warmStart replays the stored events of the last WarmStartDays into the
// cache and the dwell model and restores the filter errors.
func (s *Service) warmStart(ctx context.Context) error {
	end := s.now()
	start := end.Add(-time.Duration(s.cfg.Store.WarmStartDays) * 24 * time.Hour)
	evs, err := s.store.LoadRange(ctx, start, end.Add(time.Second))
	if err != nil {
		return err
	}
	st := s.Cache.PopulateFromDB(evs)
	samples := s.Dwell.PopulateFromDB(evs)
	entries, err := s.store.LoadErrors(ctx)
	if err != nil {
		return err
	}
	s.Errors.Restore(entries)
	s.log.Infof("warm start: %d events (%d skipped), %d dwell samples, %d error values", st.Loaded, st.Skipped, samples, len(entries))
	return nil
}

func (s *Service) flushErrors(ctx context.Context) {
	if s.store == nil {
		return
	}
	entries := s.Errors.Snapshot()
	if err := s.store.SaveErrors(ctx, entries); err != nil {
		s.log.Errorf("save filter errors: %v", err)
		s.monitor.CaptureException(err, map[string]string{"module": "store"})
		return
	}
	s.log.Debugf("saved %d filter error values", len(entries))
}

// sweep evicts expired buckets and prunes events the cache no longer needs.
func (s *Service) sweep(ctx context.Context) {
	now := s.now()
	removed := s.Cache.Sweep(now)
	if s.store == nil {
		return
	}
	n, err := s.store.Prune(ctx, now.Add(-s.Cache.Config().MaxAge))
	if err != nil {
		s.log.Errorf("prune events: %v", err)
		return
	}
	s.log.Debugf("sweep removed %d buckets and %d stored events", removed, n)
}

func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
