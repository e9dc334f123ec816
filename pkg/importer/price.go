package importer

import (
	"strconv"
	"strings"

	"github.com/recambia/recambia/pkg/normalizers"
)

// PriceOnRequest is the supplier sentinel meaning "ask for price". It is
// stored verbatim but never counts as a sellable price.
const PriceOnRequest = "-1"

// IsZeroPrice reports whether a stored price value represents "no valid
// price": empty, unparsable, or numerically <= 0 after normalizing a comma
// decimal separator. Values below one cent are treated as zero.
func IsZeroPrice(price string) bool {
	cleaned := normalizers.Apply(price, "comma_decimal")
	if cleaned == "" {
		return true
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return true
	}

	if value <= 0 {
		return true
	}
	return value < 0.01
}

// IsPriceOnRequest reports whether the stored value is the -1 sentinel.
func IsPriceOnRequest(price string) bool {
	return strings.TrimSpace(price) == PriceOnRequest
}

// PriceValid is the activation-facing view: a part may only be activated
// when its price parses to a positive amount. The -1 sentinel is invalid by
// definition.
func PriceValid(price string) bool {
	return !IsZeroPrice(price)
}
