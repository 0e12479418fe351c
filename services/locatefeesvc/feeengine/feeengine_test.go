package feeengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"locatefeesvc/services/locatefeesvc/money"
	"locatefeesvc/services/locatefeesvc/repo"
)

func TestComputeFlatFee(t *testing.T) {
	in := Input{
		BorrowRateAnnual:  money.NewFromFloat(7.3),
		PositionValue:     money.NewFromFloat(100000),
		LoanDays:          10,
		MarkupPercentage:  money.NewFromFloat(2.0),
		FeeType:           repo.TransactionFeeFlat,
		TransactionAmount: money.NewFromFloat(5.00),
	}
	out := Compute(in)

	wantDaily := money.Div(in.BorrowRateAnnual, money.NewFromInt(DaysInYear))
	wantBorrowCost := money.Quantize(money.Mul(money.Mul(in.PositionValue, wantDaily), money.NewFromInt(10)), 4)
	require.True(t, out.BorrowCost.Equal(wantBorrowCost), "borrow cost: got %s want %s", out.BorrowCost, wantBorrowCost)
	require.True(t, out.TransactionFee.Equal(money.NewFromFloat(5.00)))

	sum := money.Add(money.Add(out.BorrowCost, out.Markup), out.TransactionFee)
	require.True(t, out.TotalFee.Equal(sum), "total must equal sum of parts")
}

func TestComputePercentageFee(t *testing.T) {
	in := Input{
		BorrowRateAnnual:  money.NewFromFloat(12.0),
		PositionValue:     money.NewFromFloat(50000),
		LoanDays:          30,
		MarkupPercentage:  money.NewFromFloat(1.5),
		FeeType:           repo.TransactionFeePercentage,
		TransactionAmount: money.NewFromFloat(0.1),
	}
	out := Compute(in)
	wantTxn := money.Quantize(money.Mul(in.PositionValue, money.Div(in.TransactionAmount, money.NewFromInt(100))), 4)
	require.True(t, out.TransactionFee.Equal(wantTxn))
}

func TestComputeZeroLoanDaysYieldsZeroBorrowCost(t *testing.T) {
	in := Input{
		BorrowRateAnnual:  money.NewFromFloat(7.3),
		PositionValue:     money.NewFromFloat(100000),
		LoanDays:          0,
		MarkupPercentage:  money.NewFromFloat(2.0),
		FeeType:           repo.TransactionFeeFlat,
		TransactionAmount: money.Zero,
	}
	out := Compute(in)
	require.True(t, out.BorrowCost.IsZero())
	require.True(t, out.Markup.IsZero())
}
