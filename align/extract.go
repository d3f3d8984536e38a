package align

// DefaultMaxClusters caps the number of sequential extractions
const DefaultMaxClusters = 10

// Cluster is one extracted transform and the support it had when found
type Cluster struct {
	Index       int         `json:"index"`
	Strength    float64     `json:"strength"`
	Proposition Proposition `json:"proposition"`
}

// Extract repeatedly finds the best mapping and diminishes its supporters,
// returning distinct clusters in the order they were found. Strengths are
// not guaranteed to decrease: a later cluster can outscore an earlier one
// whose consensus was pulled off its own peak. It stops when the strength
// falls to floor or below (floor 0 stops only when nothing is left), or after
// maxClusters results (DefaultMaxClusters if <= 0).
//
// Extract leaves the mappings diminished; call ResetDiminishments to search
// again from scratch.
func (c *Correlator) Extract(maxClusters int, floor float64) []Cluster {
	if maxClusters <= 0 {
		maxClusters = DefaultMaxClusters
	}

	var clusters []Cluster
	for i := 0; i < maxClusters; i++ {
		strength, prop := c.FindBestMapping()
		if strength <= 0 || strength <= floor {
			break
		}
		clusters = append(clusters, Cluster{
			Index:       i,
			Strength:    strength,
			Proposition: prop,
		})
		c.DiminishMappingsByProposition(prop)
	}
	return clusters
}
