package shellwords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitUnquotedWords(t *testing.T) {
	got, err := Split("srun --gres=gpu:1 --")
	require.NoError(t, err)
	assert.Equal(t, []string{"srun", "--gres=gpu:1", "--"}, got)
}

func TestSplitCollapsesRepeatedWhitespace(t *testing.T) {
	got, err := Split("a   b\tc\nd")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestSplitSingleQuotesAreLiteral(t *testing.T) {
	got, err := Split(`echo 'a $b "c" \d'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", `a $b "c" \d`}, got)
}

func TestSplitDoubleQuotesHonourEscapes(t *testing.T) {
	got, err := Split(`echo "a \"b\" \\c \$d"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", `a "b" \c $d`}, got)
}

func TestSplitUnquotedBackslashEscape(t *testing.T) {
	got, err := Split(`a\ b c`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a b", "c"}, got)
}

func TestSplitAdjacentQuotedSegmentsJoinOneToken(t *testing.T) {
	got, err := Split(`'foo'"bar"baz`)
	require.NoError(t, err)
	assert.Equal(t, []string{"foobarbaz"}, got)
}

func TestSplitUnterminatedSingleQuoteIsError(t *testing.T) {
	_, err := Split(`echo 'unterminated`)
	assert.Error(t, err)
}

func TestSplitUnterminatedDoubleQuoteIsError(t *testing.T) {
	_, err := Split(`echo "unterminated`)
	assert.Error(t, err)
}

func TestSplitTrailingBackslashIsError(t *testing.T) {
	_, err := Split(`echo a\`)
	assert.Error(t, err)
}

func TestSplitEmptyStringYieldsNoTokens(t *testing.T) {
	got, err := Split("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
