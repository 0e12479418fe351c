// Package feeengine implements C6: the pure, deterministic fee decomposition
// of spec §4.6. It performs no I/O and depends only on package money and on
// package repo for the transaction-fee type.
package feeengine

import (
	"locatefeesvc/services/locatefeesvc/money"
	"locatefeesvc/services/locatefeesvc/repo"
)

// DaysInYear is the fixed day-count convention of spec §9's Open Question
// decision: always 365, regardless of calendar leap years.
const DaysInYear = 365

// Input is everything Compute needs: the annual borrow rate already produced
// by the rate engine, the position being borrowed against, the loan term,
// and the broker's fee configuration.
type Input struct {
	BorrowRateAnnual  money.Decimal
	PositionValue     money.Decimal
	LoanDays          int
	MarkupPercentage  money.Decimal
	FeeType           repo.TransactionFeeType
	TransactionAmount money.Decimal
}

// Breakdown is the itemized output of spec §4.6, every field already
// quantized to 4 decimal places.
type Breakdown struct {
	BorrowCost     money.Decimal
	Markup         money.Decimal
	TransactionFee money.Decimal
	TotalFee       money.Decimal
}

// Compute implements spec §4.6's decomposition:
//
//	daily_rate      = annual_rate / DAYS_IN_YEAR
//	borrow_cost     = position x daily_rate x loan_days
//	markup          = borrow_cost x (markup_pct / 100)
//	transaction_fee = flat amount, or position x (txn_amount / 100)
//	total           = borrow_cost + markup + transaction_fee
//
// Each component is rounded (banker's rounding, scale 4) before the others
// are computed from it, so the sum of the parts always equals the total
// shown to the caller.
func Compute(in Input) Breakdown {
	dailyRate := money.Div(in.BorrowRateAnnual, money.NewFromInt(DaysInYear))
	borrowCost := money.Quantize(money.Mul(money.Mul(in.PositionValue, dailyRate), money.NewFromInt(int64(in.LoanDays))), 4)

	markup := money.Quantize(money.Mul(borrowCost, money.Div(in.MarkupPercentage, money.NewFromInt(100))), 4)

	var txnFee money.Decimal
	switch in.FeeType {
	case repo.TransactionFeeFlat:
		txnFee = money.Quantize(in.TransactionAmount, 4)
	default: // TransactionFeePercentage
		txnFee = money.Quantize(money.Mul(in.PositionValue, money.Div(in.TransactionAmount, money.NewFromInt(100))), 4)
	}

	total := money.Quantize(money.Add(money.Add(borrowCost, markup), txnFee), 4)

	return Breakdown{
		BorrowCost:     borrowCost,
		Markup:         markup,
		TransactionFee: txnFee,
		TotalFee:       total,
	}
}
