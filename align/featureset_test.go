package align

import (
	"bytes"
	"compress/zlib"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoClustersPath = "testdata/two_clusters.json"

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParseFeatureSetFile(t *testing.T) {
	fs, err := ParseFeatureSetFile(twoClustersPath)
	require.NoError(t, err)

	assert.Equal(t, "two-clusters", fs.Session)
	require.Len(t, fs.Points, 6)
	assert.Equal(t, "a0", fs.Points[0].Name)
	assert.Equal(t, 6, fs.CorrespondenceCount())

	c := fs.Points[4].Correspondences[0]
	assert.Equal(t, "b1'", c.Name)
	assert.Equal(t, 0.8, c.Power)
	assert.Equal(t, -1.0, c.VecY)
}

func TestParseFeatureSetFile_Missing(t *testing.T) {
	_, err := ParseFeatureSetFile(filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}

func TestDecodeFeatureSet(t *testing.T) {
	raw, err := os.ReadFile(twoClustersPath)
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"raw JSON", raw, false},
		{"leading whitespace", append([]byte("\n  "), raw...), false},
		{"zlib JSON", zlibCompress(t, raw), false},
		{"empty", nil, true},
		{"whitespace only", []byte("   \n"), true},
		{"garbage", []byte{0x01, 0x02, 0x03}, true},
		{"zlib garbage", zlibCompress(t, []byte("not json")), true},
		{"zlib empty", zlibCompress(t, nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := DecodeFeatureSet(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, fs.Points, 6)
		})
	}
}

func TestParseFeatureSetJSON_NormalizesNames(t *testing.T) {
	// "e" followed by a combining acute accent
	decomposed := "cafe\u0301"
	data := []byte(`{"session":"` + decomposed + `","points":[{"name":"` + decomposed + `","x":1,"y":2,
		"correspondences":[{"name":"` + decomposed + `'","x":3,"y":4,"power":1,"vecX":1,"vecY":0}]}]}`)

	fs, err := ParseFeatureSetJSON(data)
	require.NoError(t, err)

	assert.Equal(t, "caf\u00e9", fs.Session)
	assert.Equal(t, "caf\u00e9", fs.Points[0].Name)
	assert.Equal(t, "caf\u00e9'", fs.Points[0].Correspondences[0].Name)

	// The composed spelling finds the point after loading
	c := NewCorrelator()
	require.NoError(t, fs.Load(c))
	_, ok := c.MappingPoint("caf\u00e9")
	assert.True(t, ok)
}

func TestFeatureSet_Load(t *testing.T) {
	fs, err := ParseFeatureSetFile(twoClustersPath)
	require.NoError(t, err)

	c := NewCorrelator()
	require.NoError(t, fs.Load(c))

	points := c.MappingPoints()
	require.Len(t, points, 6)
	for i, p := range points {
		assert.Equal(t, fs.Points[i].Name, p.Name)
		assert.Len(t, p.Correspondences, 1)
	}
}

func TestFeatureSet_LoadDuplicate(t *testing.T) {
	fs := &FeatureSet{Points: []FeaturePoint{
		{Name: "a"},
		{Name: "a"},
	}}
	err := fs.Load(NewCorrelator())
	assert.ErrorIs(t, err, ErrDuplicatePoint)
}

func TestNewCorrelatorFromFeatureSet(t *testing.T) {
	fs, err := ParseFeatureSetFile(twoClustersPath)
	require.NoError(t, err)

	c, err := NewCorrelatorFromFeatureSet(fs, DefaultParams(), 0)
	require.NoError(t, err)
	assert.Equal(t, 12, c.MappingCount())

	// cluster B mappings are 64; a higher floor drops them
	c, err = NewCorrelatorFromFeatureSet(fs, DefaultParams(), 70)
	require.NoError(t, err)
	assert.Equal(t, 6, c.MappingCount())

	_, err = NewCorrelatorFromFeatureSet(&FeatureSet{Points: []FeaturePoint{{Name: "x"}, {Name: "x"}}}, DefaultParams(), 0)
	assert.ErrorIs(t, err, ErrDuplicatePoint)
}
