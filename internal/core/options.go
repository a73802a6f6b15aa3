package core

import blob "entitycore/internal/infra/blob/core"

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger routes session logs to the supplied logger.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the clock used for archive revisions and timing.
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetrics records operation outcomes on the supplied recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithArchive stores a JSON copy of every saved snapshot in the supplied
// blob store, keyed by aggregate id and save timestamp.
func WithArchive(store blob.Store) Option {
	return func(s *Session) {
		s.archive = store
	}
}

// WithSaveConcurrency bounds the number of aggregates SaveAll persists in
// parallel. Values below one are ignored.
func WithSaveConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.saveLimit = n
		}
	}
}
