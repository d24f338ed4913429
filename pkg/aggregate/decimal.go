package aggregate

import (
	"github.com/cockroachdb/apd/v3"
	"github.com/pkg/errors"
)

// decimalPrecision is the number of significant digits kept by DecimalTotal.
const decimalPrecision = 34

// DecimalTotal adds decimal strings without losing precision. Empty strings
// are skipped.
func DecimalTotal(values []string) (string, error) {
	ctx := apd.BaseContext.WithPrecision(decimalPrecision)

	var total apd.Decimal
	for _, s := range values {
		if s == "" {
			continue
		}

		var d apd.Decimal
		if _, _, err := d.SetString(s); err != nil {
			return "", errors.Wrapf(err, "invalid decimal %q", s)
		}
		if _, err := ctx.Add(&total, &total, &d); err != nil {
			return "", errors.Wrapf(err, "adding %q", s)
		}
	}

	return total.String(), nil
}
