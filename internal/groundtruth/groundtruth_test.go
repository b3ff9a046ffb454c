package groundtruth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStepIDs(t *testing.T) {
	ids, err := parseStepIDs(`{"completed": [3, 1, 4]}`)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 4}, ids)
}

func TestParseStepIDsStripsCodeFences(t *testing.T) {
	ids, err := parseStepIDs("```json\n{\"completed\": [2]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids)

	ids, err = parseStepIDs("```\n{\"completed\": []}\n```")
	require.NoError(t, err)
	assert.Equal(t, []int{}, ids)
}

func TestParseStepIDsMissingFieldYieldsEmpty(t *testing.T) {
	ids, err := parseStepIDs(`{"analysis": "nothing completed"}`)
	require.NoError(t, err)
	assert.Equal(t, []int{}, ids)
}

func TestParseStepIDsRejectsNonJSON(t *testing.T) {
	_, err := parseStepIDs("I think steps 1 and 2 were completed.")
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestNewAppliesOptions(t *testing.T) {
	g := New(
		WithBaseURL("http://127.0.0.1:9000/v1"),
		WithAPIKey("test-key"),
		WithModel("annotator-model"),
	)
	require.NotNil(t, g)
	assert.Equal(t, "annotator-model", g.model)
}
