package ecash

import (
	"errors"
	"math/bits"
)

var (
	ErrAmountOverflow  = errors.New("amount overflow")
	ErrAmountUnderflow = errors.New("amount underflow")
	ErrDivideByZero    = errors.New("division by zero")
)

// Amount is a token value denominated in the mint's smallest unit
// (e.g. micro-USD). All arithmetic is overflow-checked.
type Amount uint64

func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(sum), nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, ErrAmountUnderflow
	}
	return Amount(diff), nil
}

func (a Amount) Mul(b Amount) (Amount, error) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(lo), nil
}

func (a Amount) Div(b Amount) (Amount, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a / b, nil
}

// Split returns the canonical decomposition of the amount into
// powers of 2 e.g 13 -> [1, 4, 8]. The result has one element per
// set bit and always sums back to the amount.
func (a Amount) Split() []uint64 {
	rv := make([]uint64, 0, bits.OnesCount64(uint64(a)))
	amount := uint64(a)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

// AmountSplit is the function form of Amount.Split.
func AmountSplit(amount uint64) []uint64 {
	return Amount(amount).Split()
}

func sumAmounts(amounts []uint64) (Amount, error) {
	var total Amount
	var err error
	for _, amt := range amounts {
		total, err = total.Add(Amount(amt))
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
