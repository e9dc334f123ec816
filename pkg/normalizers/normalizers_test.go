package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply(t *testing.T) {
	assert.Equal(t, "abc", Apply("ABC", "lowercase"))
	assert.Equal(t, "ABC", Apply("abc", "uppercase"))
	assert.Equal(t, "abc", Apply("  abc  ", "trim"))
	assert.Equal(t, "abc", Apply("a b c", "remove_whitespace"))
	assert.Equal(t, "abc123", Apply("a-b c/1.2.3", "alphanumeric"))
	assert.Equal(t, "123", Apply("a1b2c3", "digits_only"))
}

func TestApplyUnknownNormalizerReturnsInput(t *testing.T) {
	assert.Equal(t, "unchanged", Apply("unchanged", "no_such_normalizer"))
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "ABC123", ApplyChain(" abc 123 ", "remove_whitespace", "uppercase"))
}

func TestCommaDecimal(t *testing.T) {
	assert.Equal(t, "12.50", CommaDecimal(" 12,50 "))
	assert.Equal(t, "12.50", CommaDecimal("12.50"))
	assert.Equal(t, "", CommaDecimal("   "))
}

func TestNormalizePlate(t *testing.T) {
	assert.Equal(t, "1234ABC", NormalizePlate("1234-abc"))
	assert.Equal(t, "M1234XY", NormalizePlate(" m 1234 xy "))
}

func TestNormalizeVersionCode(t *testing.T) {
	assert.Equal(t, "GOLFVII1.6TDI", NormalizeVersionCode("golf vii 1.6 tdi"))
	assert.Equal(t, "", NormalizeVersionCode("  "))
}

func TestNormalizeFuel(t *testing.T) {
	assert.Equal(t, "diesel", NormalizeFuel(" DIESEL "))
}

func TestRegisterCustomNormalizer(t *testing.T) {
	Register("reverse_case_test", func(s string) string { return s + "!" })
	fn, ok := Get("reverse_case_test")
	assert.True(t, ok)
	assert.Equal(t, "x!", fn("x"))
	assert.Equal(t, "x!", Apply("x", "reverse_case_test"))
}
