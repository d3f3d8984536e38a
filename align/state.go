package align

import (
	"log"
	"sort"
	"sync"
)

// StateTracker holds the latest feature set and report of every session for
// the HTTP endpoints
type StateTracker struct {
	mu          sync.RWMutex
	featureSets map[string]*FeatureSet
	reports     *ReportCache
	cachePath   string // empty disables persistence
}

// NewStateTracker creates an in-memory state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{
		featureSets: make(map[string]*FeatureSet),
		reports:     NewReportCache(),
	}
}

// NewStateTrackerWithCache creates a state tracker that persists reports to
// cachePath. Reports already cached there are loaded on creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := NewStateTracker()
	st.cachePath = cachePath
	if cachePath != "" {
		rc, err := LoadReportCache(cachePath)
		if err != nil {
			log.Printf("warning: ignoring report cache: %v", err)
		} else {
			st.reports = rc
		}
	}
	return st
}

// FeatureSet returns the latest feature set of a session
func (st *StateTracker) FeatureSet(session string) (*FeatureSet, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	fs, ok := st.featureSets[session]
	return fs, ok
}

// UpdateRun stores a feature set and the report extracted from it as the
// latest state of the report's session, and persists the report cache when
// one is configured. Readers never see one without the other.
func (st *StateTracker) UpdateRun(fs *FeatureSet, r *Report) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.featureSets[r.Session] = fs
	st.reports.Put(r)
	if st.cachePath == "" {
		return
	}
	if err := SaveReportCache(st.cachePath, st.reports); err != nil {
		log.Printf("warning: failed to save report cache: %v", err)
	}
}

// Report returns the latest report of a session
func (st *StateTracker) Report(session string) (*Report, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.reports.Get(session)
}

// Sessions returns every session with a feature set or a report, sorted
func (st *StateTracker) Sessions() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	seen := make(map[string]bool)
	for id := range st.featureSets {
		seen[id] = true
	}
	for _, id := range st.reports.Sessions() {
		seen[id] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
