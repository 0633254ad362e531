package deity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIsCaseInsensitive(t *testing.T) {
	d, err := Parse("  CrAfT ")
	require.NoError(t, err)
	assert.Equal(t, Craft, d)

	_, err = Parse("sun")
	assert.Error(t, err)
}

func TestNoneIsNotSelectable(t *testing.T) {
	assert.False(t, None.Valid())
	for _, d := range All() {
		assert.True(t, d.Valid(), d.String())
	}
	assert.False(t, Deity(99).Valid())
}

func TestJSONUsesNames(t *testing.T) {
	data, err := json.Marshal(map[string]Deity{"deity": Wild})
	require.NoError(t, err)
	assert.JSONEq(t, `{"deity":"wild"}`, string(data))

	var decoded map[string]Deity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Wild, decoded["deity"])
}
