package money

// APIDecimal wraps a Decimal so it marshals as a bare JSON number (never a
// quoted string, never round-tripped through float64) for the wire formats
// of spec §6.1. JSON permits arbitrary-precision number literals, so writing
// the decimal's own text form directly is lossless.
type APIDecimal Decimal

// MarshalJSON writes d's value as a JSON number literal.
func (d APIDecimal) MarshalJSON() ([]byte, error) {
	dec := Decimal(d)
	return []byte(dec.String()), nil
}

// UnmarshalJSON reads a JSON number literal into d.
func (d *APIDecimal) UnmarshalJSON(data []byte) error {
	dec, err := NewFromString(string(data))
	if err != nil {
		return err
	}
	*d = APIDecimal(dec)
	return nil
}

// AsDecimal unwraps d back to a plain Decimal for further arithmetic.
func (d APIDecimal) AsDecimal() Decimal { return Decimal(d) }

// WireDecimal wraps v for JSON marshaling in an API response.
func WireDecimal(v Decimal) APIDecimal { return APIDecimal(v) }
