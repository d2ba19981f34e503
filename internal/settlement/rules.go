// Package settlement implements the trade settlement engine: the validate-
// and-apply step that turns a buy or sell intent into committed balance and
// holding state, atomically and without ever leaving the ledger inconsistent.
package settlement

import "github.com/shopspring/decimal"

// Total computes shares * price with exact decimal arithmetic.
func Total(shares, price decimal.Decimal) decimal.Decimal {
	return shares.Mul(price)
}

// RequireSufficient fails with an InsufficientResourceError when available
// is less than required. The resource name ("balance" or "shares") is
// carried on the error verbatim.
func RequireSufficient(available, required decimal.Decimal, resource string) error {
	if available.Cmp(required) < 0 {
		return &InsufficientResourceError{
			Resource:  resource,
			Available: available,
			Required:  required,
		}
	}
	return nil
}

// ApplySignedDelta returns current + sign*delta, sign in {+1, -1}. Used for
// both balance adjustments (cash moves opposite to the share direction) and
// share-count adjustments.
func ApplySignedDelta(current, delta decimal.Decimal, sign int) decimal.Decimal {
	if sign < 0 {
		return current.Sub(delta)
	}
	return current.Add(delta)
}
