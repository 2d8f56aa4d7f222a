package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlob_MixedEntries(t *testing.T) {
	blob := "Text Box ID 0: {'type': 'text', 'bbox': [0.1, 0.2, 0.3, 0.25], 'interactivity': False, 'content': 'Patient Search'}\n" +
		"Icon Box ID 1: {'type': 'icon', 'bbox': [0.5, oops], 'interactivity': True, 'content': 'Go'}\n"

	els, skipped := ParseBlob(blob)
	require.Len(t, els, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "text", els[0].Type)
	assert.Equal(t, "Patient Search", els[0].Content)
	assert.Equal(t, [4]float64{0.1, 0.2, 0.3, 0.25}, els[0].BBox)
	assert.False(t, els[0].Interactable)
	assert.Equal(t, 0, els[0].Index)
}

func TestParseBlob_ApostropheInContent(t *testing.T) {
	blob := `icon 4: {'type': 'icon', 'bbox': [0.1, 0.1, 0.2, 0.2], 'interactivity': True, 'content': "Patient's chart"}`
	els, skipped := ParseBlob(blob)
	require.Len(t, els, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, "Patient's chart", els[0].Content)
	assert.True(t, els[0].Interactable)
	assert.Equal(t, 4, els[0].Index)
}

func TestParseBlob_FallsBackToFieldExtraction(t *testing.T) {
	// unterminated dict defeats the structured parse
	blob := "icon 2: {'type': 'icon', 'bbox': [0.1, 0.1, 0.2, 0.2], 'interactivity': True, 'content': 'Save', 'score': 0.87"
	els, skipped := ParseBlob(blob)
	require.Len(t, els, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, "Save", els[0].Content)
	assert.True(t, els[0].Interactable)
	assert.InDelta(t, 0.87, els[0].Confidence, 1e-9)
}

func TestParseBlob_SmartQuotesAndNone(t *testing.T) {
	blob := "Text Box ID 3: {‘type’: ‘text’, ‘bbox’: (0.0, 0.0, 0.5, 0.5), ‘interactivity’: False, ‘content’: None}"
	els, skipped := ParseBlob(blob)
	require.Len(t, els, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, "", els[0].Content)
	assert.Equal(t, [4]float64{0, 0, 0.5, 0.5}, els[0].BBox)
}

func TestParseBlob_TypeFromHeader(t *testing.T) {
	els, _ := ParseBlob("Icon Box ID 7: {'bbox': [0.1, 0.1, 0.2, 0.2], 'content': 'x'}")
	require.Len(t, els, 1)
	assert.Equal(t, "icon", els[0].Type)
}

func TestParseBlob_Empty(t *testing.T) {
	els, skipped := ParseBlob("")
	assert.Empty(t, els)
	assert.Zero(t, skipped)
}

func TestPyToJSON(t *testing.T) {
	assert.Equal(t,
		`{"a": true, "b": [1, 2], "c": null, "Trueish": "False"}`,
		pyToJSON(`{'a': True, 'b': (1, 2), 'c': None, 'Trueish': 'False'}`))
}
