package validate

import (
	"regexp"
	"strings"

	"locatefeesvc/services/locatefeesvc/money"
)

var (
	tickerPattern   = regexp.MustCompile(`^[A-Z0-9.\-]+$`)
	clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

	maxPositionValue = money.NewFromInt(1_000_000_000)
)

// CalculateRequest is the validated shape of a /calculate-locate call.
type CalculateRequest struct {
	Ticker        string
	PositionValue money.Decimal
	LoanDays      int
	ClientID      string
}

// Ticker validates and normalizes a ticker: non-empty, <=10 chars,
// [A-Z0-9.\-]+ after uppercasing. Rules are applied in spec order; the first
// offending rule is returned.
func Ticker(raw string) (string, *Error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", WithField(CodeInvalidParameter, "ticker is required", "ticker")
	}
	if len(trimmed) > 10 {
		return "", WithField(CodeInvalidParameter, "ticker exceeds 10 characters", "ticker")
	}
	if !tickerPattern.MatchString(trimmed) {
		return "", WithField(CodeInvalidParameter, "ticker contains invalid characters", "ticker")
	}
	return trimmed, nil
}

// PositionValue validates a strictly-positive position value bounded by 10^9.
func PositionValue(v money.Decimal) *Error {
	if !v.IsPositive() {
		return WithField(CodeInvalidParameter, "position_value must be strictly positive", "position_value")
	}
	if v.GreaterThan(maxPositionValue) {
		return WithField(CodeInvalidParameter, "position_value exceeds the maximum of 10^9", "position_value")
	}
	return nil
}

// LoanDays validates an integer loan duration in [1, 365].
func LoanDays(days int) *Error {
	if days < 1 || days > 365 {
		return WithField(CodeInvalidParameter, "loan_days must be between 1 and 365", "loan_days")
	}
	return nil
}

// ClientID validates a non-empty, <=50 char, [A-Za-z0-9_\-]+ client identifier.
func ClientID(raw string) (string, *Error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", WithField(CodeInvalidParameter, "client_id is required", "client_id")
	}
	if len(trimmed) > 50 {
		return "", WithField(CodeInvalidParameter, "client_id exceeds 50 characters", "client_id")
	}
	if !clientIDPattern.MatchString(trimmed) {
		return "", WithField(CodeInvalidParameter, "client_id contains invalid characters", "client_id")
	}
	return trimmed, nil
}

// CalculateFields validates the four fields of a calculate-locate request in
// spec order, returning on the first offending field.
func CalculateFields(rawTicker string, positionValue money.Decimal, loanDays int, rawClientID string) (CalculateRequest, *Error) {
	ticker, verr := Ticker(rawTicker)
	if verr != nil {
		return CalculateRequest{}, verr
	}
	if verr := PositionValue(positionValue); verr != nil {
		return CalculateRequest{}, verr
	}
	if verr := LoanDays(loanDays); verr != nil {
		return CalculateRequest{}, verr
	}
	clientID, verr := ClientID(rawClientID)
	if verr != nil {
		return CalculateRequest{}, verr
	}
	return CalculateRequest{
		Ticker:        ticker,
		PositionValue: positionValue,
		LoanDays:      loanDays,
		ClientID:      clientID,
	}, nil
}
