package align

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/unicode/norm"
)

// FeatureSet is the document produced by the feature extractor: source
// anchors with their candidate correspondences in the target image.
type FeatureSet struct {
	Session string         `json:"session"`
	Points  []FeaturePoint `json:"points"`
}

// FeaturePoint is a source anchor
type FeaturePoint struct {
	Name            string                  `json:"name"`
	X               float64                 `json:"x"`
	Y               float64                 `json:"y"`
	Correspondences []FeatureCorrespondence `json:"correspondences"`
}

// FeatureCorrespondence is one candidate match of a FeaturePoint
type FeatureCorrespondence struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Power float64 `json:"power"`
	VecX  float64 `json:"vecX"`
	VecY  float64 `json:"vecY"`
}

// ParseFeatureSetFile reads and parses a feature-set file (raw or zlib JSON)
func ParseFeatureSetFile(path string) (*FeatureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return DecodeFeatureSet(data)
}

// ParseFeatureSetJSON parses feature-set JSON data and normalizes names to NFC
func ParseFeatureSetJSON(data []byte) (*FeatureSet, error) {
	var fs FeatureSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	fs.normalizeNames()
	return &fs, nil
}

// DecodeFeatureSet decodes a feature-set payload in either format:
// - Raw JSON (starts with '{', possibly after whitespace)
// - Zlib-compressed JSON (MQTT payloads)
func DecodeFeatureSet(data []byte) (*FeatureSet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	jsonBytes := trimmed
	if trimmed[0] != '{' {
		inflated, err := inflateZlib(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON or zlib-compressed JSON")
		}
		jsonBytes = inflated
	}

	if len(jsonBytes) == 0 {
		return nil, fmt.Errorf("decoded JSON payload is empty")
	}
	return ParseFeatureSetJSON(jsonBytes)
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}

// normalizeNames converts every point and correspondence name to NFC so that
// visually identical names from different extractors compare equal.
func (fs *FeatureSet) normalizeNames() {
	fs.Session = norm.NFC.String(fs.Session)
	for i := range fs.Points {
		p := &fs.Points[i]
		p.Name = norm.NFC.String(p.Name)
		for j := range p.Correspondences {
			p.Correspondences[j].Name = norm.NFC.String(p.Correspondences[j].Name)
		}
	}
}

// CorrespondenceCount returns the number of correspondences across all points
func (fs *FeatureSet) CorrespondenceCount() int {
	n := 0
	for _, p := range fs.Points {
		n += len(p.Correspondences)
	}
	return n
}

// Load registers every point and correspondence with c, in document order.
// It stops at the first registration error.
func (fs *FeatureSet) Load(c *Correlator) error {
	for _, p := range fs.Points {
		if err := c.AddMappingPoint(p.Name, p.X, p.Y); err != nil {
			return err
		}
		for _, fc := range p.Correspondences {
			if err := c.AddCorrespondence(p.Name, fc.Name, fc.X, fc.Y, fc.Power, fc.VecX, fc.VecY); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewCorrelatorFromFeatureSet builds a correlator with the given params,
// loads fs into it and creates the propositions.
func NewCorrelatorFromFeatureSet(fs *FeatureSet, params Params, minStrength float64) (*Correlator, error) {
	c := NewCorrelatorWithParams(params)
	if err := fs.Load(c); err != nil {
		return nil, fmt.Errorf("loading feature set %q: %w", fs.Session, err)
	}
	c.CreatePropositions(minStrength)
	return c, nil
}
