package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWinstonToAr(t *testing.T) {
	got, err := WinstonToAr("1000000000000", WinstonDecimals, false)
	require.NoError(t, err)
	assert.Equal(t, "1.000000000000", got)

	got, err = WinstonToAr("1", WinstonDecimals, false)
	require.NoError(t, err)
	assert.Equal(t, "0.000000000001", got)

	got, err = WinstonToAr("1234567000000000000", 2, true)
	require.NoError(t, err)
	assert.Equal(t, "1,234,567.00", got)

	_, err = WinstonToAr("ten", WinstonDecimals, false)
	assert.Error(t, err)
}

func TestArToWinston(t *testing.T) {
	got, err := ArToWinston("1.5", false)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000", got)

	// half away from zero
	got, err = ArToWinston("0.0000000000005", false)
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	got, err = ArToWinston("-0.0000000000005", false)
	require.NoError(t, err)
	assert.Equal(t, "-1", got)

	got, err = ArToWinston("0.0000000000004", false)
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestUnitArithmetic(t *testing.T) {
	sum, err := AddUnits("999999999999999999999", "1")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", sum)

	diff, err := SubUnits("1", "3")
	require.NoError(t, err)
	assert.Equal(t, "-2", diff)

	cmp, err := CompareUnits("10", "9")
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = CompareUnits("1e3", "1000")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)
}

func TestFormatFixed(t *testing.T) {
	r, err := ParseUnits("2.345")
	require.NoError(t, err)
	assert.Equal(t, "2.35", FormatFixed(r, 2))
	assert.Equal(t, "2", FormatFixed(r, 0))
	assert.Equal(t, "2.34500", FormatFixed(r, 5))

	r, err = ParseUnits("-0.001")
	require.NoError(t, err)
	assert.Equal(t, "0.00", FormatFixed(r, 2))
}
