package align

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultReportCachePath is the default path of the last-report cache
const DefaultReportCachePath = ".meshalign-reports.json"

// Report is the result of one extraction run over a feature set
type Report struct {
	RunID               string    `json:"runId"`
	Session             string    `json:"session"`
	CreatedAt           time.Time `json:"createdAt"`
	PointCount          int       `json:"pointCount"`
	CorrespondenceCount int       `json:"correspondenceCount"`
	MappingCount        int       `json:"mappingCount"`
	Clusters            []Cluster `json:"clusters"`
}

// NewRunID returns a time-sortable UUIDv7 run identifier
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewReport summarizes an extraction over fs. c must be the correlator the
// clusters were extracted from.
func NewReport(fs *FeatureSet, c *Correlator, clusters []Cluster) *Report {
	if clusters == nil {
		clusters = []Cluster{}
	}
	return &Report{
		RunID:               NewRunID(),
		Session:             fs.Session,
		CreatedAt:           time.Now().UTC(),
		PointCount:          len(fs.Points),
		CorrespondenceCount: fs.CorrespondenceCount(),
		MappingCount:        c.MappingCount(),
		Clusters:            clusters,
	}
}

// Best returns the strongest cluster. Clusters are kept in extraction
// order, so the first one is not necessarily the strongest; ties go to the
// earlier cluster.
func (r *Report) Best() (Cluster, bool) {
	if r == nil || len(r.Clusters) == 0 {
		return Cluster{}, false
	}
	best := r.Clusters[0]
	for _, cl := range r.Clusters[1:] {
		if cl.Strength > best.Strength {
			best = cl
		}
	}
	return best, true
}

// RunExtraction loads fs into a fresh correlator configured by cc, extracts
// the clusters and returns the report together with the correlator.
func RunExtraction(fs *FeatureSet, cc CorrelatorConfig) (*Report, *Correlator, error) {
	c, err := NewCorrelatorFromFeatureSet(fs, cc.Params(), cc.MinStrength)
	if err != nil {
		return nil, nil, err
	}
	clusters := c.Extract(cc.MaxClusters, cc.StopStrength)
	return NewReport(fs, c, clusters), c, nil
}

// FormatReport writes a human readable summary of r
func FormatReport(w io.Writer, r *Report) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("Run:      %s\n", r.RunID)
	printf("Session:  %s\n", r.Session)
	printf("Created:  %s\n", r.CreatedAt.UTC().Format(time.RFC3339))
	printf("Points:   %d (%d correspondences, %d mappings)\n",
		r.PointCount, r.CorrespondenceCount, r.MappingCount)
	printf("Clusters: %d\n", len(r.Clusters))
	for _, cl := range r.Clusters {
		p := cl.Proposition
		printf("  #%d  strength=%9.3f  translation=(%.3f, %.3f)  rotation=%8.3f°  scale=%.4f\n",
			cl.Index, cl.Strength, p.Translation.X, p.Translation.Y, p.RotationDeg(), p.Scale)
	}
	return err
}

// ReportCache keeps the latest report per session, stored as JSON
type ReportCache struct {
	Reports     map[string]*Report `json:"reports"`
	LastUpdated int64              `json:"lastUpdated"`
}

// NewReportCache returns an empty cache
func NewReportCache() *ReportCache {
	return &ReportCache{Reports: make(map[string]*Report)}
}

// LoadReportCache loads the cache from path. A missing file yields an empty
// cache.
func LoadReportCache(path string) (*ReportCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewReportCache(), nil
		}
		return nil, fmt.Errorf("reading report cache: %w", err)
	}

	var rc ReportCache
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parsing report cache: %w", err)
	}
	if rc.Reports == nil {
		rc.Reports = make(map[string]*Report)
	}
	return &rc, nil
}

// SaveReportCache writes the cache to path, creating the directory if needed
func SaveReportCache(path string, rc *ReportCache) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report cache directory: %w", err)
	}

	rc.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report cache: %w", err)
	}
	return nil
}

// Put stores r as the latest report of its session
func (rc *ReportCache) Put(r *Report) {
	rc.Reports[r.Session] = r
}

// Get returns the latest report of a session
func (rc *ReportCache) Get(session string) (*Report, bool) {
	r, ok := rc.Reports[session]
	return r, ok
}

// Sessions returns the cached session ids in sorted order
func (rc *ReportCache) Sessions() []string {
	ids := make([]string, 0, len(rc.Reports))
	for id := range rc.Reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
