package amount

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestParseTokens(t *testing.T) {
	v, err := ParseTokens("7.2")
	require.NoError(t, err)
	require.Equal(t, "7200000000000000000", v.String())

	v, err = ParseTokens("15")
	require.NoError(t, err)
	require.True(t, v.Equal(Tokens(15)))

	_, err = ParseTokens("-1")
	require.Error(t, err)
	_, err = ParseTokens("abc")
	require.Error(t, err)
}

func TestMulBP(t *testing.T) {
	require.True(t, MulBP(Tokens(15), 2000).Equal(Tokens(3)))
	require.True(t, MulBP(sdkmath.NewInt(9), 5000).Equal(sdkmath.NewInt(4)))
}

func TestWord(t *testing.T) {
	w, err := Word(sdkmath.NewInt(258))
	require.NoError(t, err)
	require.Equal(t, byte(1), w[30])
	require.Equal(t, byte(2), w[31])

	_, err = Word(sdkmath.NewInt(-1))
	require.Error(t, err)
}

func TestFormatTokens(t *testing.T) {
	require.Equal(t, "0.600000000000000000", FormatTokens(MustTokens("0.6")))
}
