package align

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrDebounced is returned when a session was extracted too recently
var ErrDebounced = errors.New("extraction debounced")

// ReportPublisher sends finished reports somewhere, typically MQTT
type ReportPublisher interface {
	PublishReport(r *Report) error
}

// ReportRecorder appends finished reports to a history
type ReportRecorder interface {
	SaveReport(ctx context.Context, r *Report) error
}

// Extractor runs cluster extraction whenever a session delivers a new feature
// set. Runs of the same session closer together than the configured minimum
// interval are skipped.
type Extractor struct {
	config    *Config
	state     *StateTracker
	publisher ReportPublisher
	history   ReportRecorder
	fetchOpts []FetchOption

	mu      sync.Mutex
	lastRun map[string]time.Time
	now     func() time.Time
}

// NewExtractor creates an extractor. publisher and history may be nil.
func NewExtractor(config *Config, st *StateTracker, publisher ReportPublisher, history ReportRecorder) *Extractor {
	if config == nil {
		config = DefaultConfig()
	}
	if st == nil {
		st = NewStateTracker()
	}
	return &Extractor{
		config:    config,
		state:     st,
		publisher: publisher,
		history:   history,
		lastRun:   make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetPublisher replaces the report publisher. The MQTT publisher can only be
// built once the client exists, and the client needs HandleMessage first.
func (e *Extractor) SetPublisher(p ReportPublisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

// SetFetchOptions sets the options used by FetchAndExtract
func (e *Extractor) SetFetchOptions(opts ...FetchOption) {
	e.fetchOpts = opts
}

// HandleMessage is the MessageHandler registered with the MQTT client
func (e *Extractor) HandleMessage(sessionID string, raw []byte, fs *FeatureSet, err error) {
	if err != nil {
		log.Printf("[EXTRACT] %s: dropping undecodable payload (%d bytes): %v", sessionID, len(raw), err)
		return
	}
	if _, err := e.Extract(context.Background(), sessionID, fs, false); err != nil && !errors.Is(err, ErrDebounced) {
		log.Printf("[EXTRACT] %s: %v", sessionID, err)
	}
}

// Extract extracts the clusters of fs and, once the run succeeds, stores fs
// and its report together as the session's latest state. Unless force is
// set, a run within the minimum interval of the previous one returns
// ErrDebounced. A debounced or failed run leaves the stored state untouched.
// Publishing and history failures are logged and do not fail the run.
func (e *Extractor) Extract(ctx context.Context, sessionID string, fs *FeatureSet, force bool) (*Report, error) {
	if fs == nil {
		return nil, fmt.Errorf("session %s: nil feature set", sessionID)
	}
	fs.Session = sessionID

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if last, ok := e.lastRun[sessionID]; ok && !force {
		if since := now.Sub(last); since < e.config.MinInterval() {
			log.Printf("[EXTRACT] %s: skipping, last run %s ago (min interval %s)",
				sessionID, since.Round(time.Second), e.config.MinInterval())
			return nil, ErrDebounced
		}
	}

	start := time.Now()
	report, _, err := RunExtraction(fs, e.config.Correlator)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	e.lastRun[sessionID] = now

	log.Printf("[EXTRACT] %s: run %s found %d clusters from %d mappings in %s",
		sessionID, report.RunID, len(report.Clusters), report.MappingCount, time.Since(start).Round(time.Millisecond))

	e.state.UpdateRun(fs, report)

	if e.history != nil {
		if err := e.history.SaveReport(ctx, report); err != nil {
			log.Printf("[EXTRACT] %s: failed to record run %s: %v", sessionID, report.RunID, err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishReport(report); err != nil {
			log.Printf("[EXTRACT] %s: failed to publish run %s: %v", sessionID, report.RunID, err)
		}
	}

	return report, nil
}

// FetchAndExtract pulls a fresh feature set from the session's apiUrl and
// extracts it, bypassing the debounce
func (e *Extractor) FetchAndExtract(ctx context.Context, sessionID string) (*Report, error) {
	sc := e.config.GetSessionByID(sessionID)
	if sc == nil {
		return nil, fmt.Errorf("session %s not found in config", sessionID)
	}
	if sc.APIURL == "" {
		return nil, fmt.Errorf("session %s has no apiUrl configured", sessionID)
	}

	log.Printf("[EXTRACT] %s: fetching feature set from %s", sessionID, sc.APIURL)
	fs, err := FetchFeatureSet(ctx, sc.APIURL, e.fetchOpts...)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return e.Extract(ctx, sessionID, fs, true)
}

// State returns the tracker the extractor writes to
func (e *Extractor) State() *StateTracker {
	return e.state
}
