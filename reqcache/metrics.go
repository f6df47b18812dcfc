package reqcache

// Metrics receives cache events. Implementations must be safe for concurrent
// use and must not block.
type Metrics interface {
	// Hit is called when a fresh value is served.
	Hit()
	// Miss is called when a Get starts a new fetch.
	Miss()
	// Shared is called when a Get joins a fetch already in flight.
	Shared()
	// Failure is called when a fetch returns an error.
	Failure()
	// Abandon is called when every waiter of a fetch has gone away.
	Abandon()
}

// NoopMetrics ignores every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit()     {}
func (NoopMetrics) Miss()    {}
func (NoopMetrics) Shared()  {}
func (NoopMetrics) Failure() {}
func (NoopMetrics) Abandon() {}

// Stats is a snapshot of a cache's counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Shared    uint64 `json:"shared"`
	Failures  uint64 `json:"failures"`
	Abandoned uint64 `json:"abandoned"`
	Entries   int    `json:"entries"`
	Loading   int    `json:"loading"`
}

// HitRatio returns hits over all lookups, or 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses + s.Shared
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
