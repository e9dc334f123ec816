package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsZeroPrice(t *testing.T) {
	t.Run("ZeroValues", func(t *testing.T) {
		assert.True(t, IsZeroPrice(""))
		assert.True(t, IsZeroPrice("0"))
		assert.True(t, IsZeroPrice("0,00"))
		assert.True(t, IsZeroPrice("0.00"))
		assert.True(t, IsZeroPrice("  0  "))
	})

	t.Run("SubCentValues", func(t *testing.T) {
		assert.True(t, IsZeroPrice("0.009"))
		assert.True(t, IsZeroPrice("0,005"))
	})

	t.Run("NegativeValues", func(t *testing.T) {
		assert.True(t, IsZeroPrice("-1"))
		assert.True(t, IsZeroPrice("-12,50"))
	})

	t.Run("Unparsable", func(t *testing.T) {
		assert.True(t, IsZeroPrice("consultar"))
		assert.True(t, IsZeroPrice("12,50 EUR"))
	})

	t.Run("ValidValues", func(t *testing.T) {
		assert.False(t, IsZeroPrice("12,50"))
		assert.False(t, IsZeroPrice("12.50"))
		assert.False(t, IsZeroPrice("0.01"))
		assert.False(t, IsZeroPrice("1500"))
	})
}

func TestIsPriceOnRequest(t *testing.T) {
	assert.True(t, IsPriceOnRequest("-1"))
	assert.True(t, IsPriceOnRequest(" -1 "))
	assert.False(t, IsPriceOnRequest("-1.5"))
	assert.False(t, IsPriceOnRequest("0"))
	assert.False(t, IsPriceOnRequest("12,50"))
}

func TestPriceValid(t *testing.T) {
	assert.True(t, PriceValid("12,50"))
	assert.True(t, PriceValid("0.01"))
	assert.False(t, PriceValid("0"))
	assert.False(t, PriceValid("-1"))
	assert.False(t, PriceValid(""))
	assert.False(t, PriceValid("consultar"))
}
