package jacc

import "time"

// Check outcomes reported to CacheMetrics.
const (
	OutcomeToken      = "token"       // answered from the caller's epoch token
	OutcomeSnapshot   = "snapshot"    // answered from the installed snapshot
	OutcomeLoading    = "loading"     // denied because a load was in flight
	OutcomeLoaded     = "loaded"      // answered after loading a new snapshot
	OutcomeLoadFailed = "load_failed" // denied because the load failed
)

// CacheMetrics receives permission cache events.
type CacheMetrics interface {
	ObserveCheck(outcome string, granted bool)
	ObserveLoad(d time.Duration, err error)
	ObserveReset()
}

type noopMetrics struct{}

func (noopMetrics) ObserveCheck(string, bool)        {}
func (noopMetrics) ObserveLoad(time.Duration, error) {}
func (noopMetrics) ObserveReset()                    {}
