package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmanbill/fusion360-mcp/internal/fusion"
)

func TestEncodeDecode_RestoresCounters(t *testing.T) {
	design := fusion.NewDesign("bracket")
	_, err := design.SetParameter("width", 80, "mm", "")
	require.NoError(t, err)

	sketch, err := design.AddSketch("base", "XY")
	require.NoError(t, err)
	line, err := design.AddLine(sketch.ID, fusion.Point{}, fusion.Point{X: 10}, false)
	require.NoError(t, err)

	data, err := Encode(design)
	require.NoError(t, err)

	loaded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "bracket", loaded.Name)
	require.Len(t, loaded.Sketches, 1)
	assert.Equal(t, sketch.ID, loaded.Sketches[0].ID)

	// new entities on the loaded design must not reuse persisted ids
	reloaded := loaded.Sketches[0]
	_, err = loaded.ActivateSketch(reloaded.ID)
	require.NoError(t, err)
	newLine, err := loaded.AddLine(reloaded.ID, fusion.Point{Y: 5}, fusion.Point{X: 10, Y: 5}, false)
	require.NoError(t, err)
	assert.NotEqual(t, line.ID, newLine.ID)
	assert.Nil(t, func() any {
		seen := map[string]int{}
		for _, e := range reloaded.Entities {
			seen[e.ID]++
			if seen[e.ID] > 1 {
				return e.ID
			}
		}
		return nil
	}(), "duplicate entity id after reload")
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}
