package ecash

import (
	"math"
	"reflect"
	"testing"
)

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{amount: 13, expected: []uint64{1, 4, 8}},
		{amount: 63, expected: []uint64{1, 2, 4, 8, 16, 32}},
		{amount: 64, expected: []uint64{64}},
		{amount: 1, expected: []uint64{1}},
		{amount: 0, expected: []uint64{}},
	}

	for _, test := range tests {
		split := AmountSplit(test.amount)
		if !reflect.DeepEqual(split, test.expected) {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, split)
		}

		var sum uint64
		for _, amt := range split {
			sum += amt
		}
		if sum != test.amount {
			t.Errorf("split of %v sums to %v", test.amount, sum)
		}
	}
}

func TestAmountCheckedArithmetic(t *testing.T) {
	if _, err := Amount(math.MaxUint64).Add(1); err != ErrAmountOverflow {
		t.Errorf("expected overflow error but got '%v'", err)
	}
	if sum, err := Amount(21).Add(42); err != nil || sum != 63 {
		t.Errorf("expected 63 but got '%v' (err %v)", sum, err)
	}

	if _, err := Amount(10).Sub(210); err != ErrAmountUnderflow {
		t.Errorf("expected underflow error but got '%v'", err)
	}
	if diff, err := Amount(42).Sub(21); err != nil || diff != 21 {
		t.Errorf("expected 21 but got '%v' (err %v)", diff, err)
	}

	if _, err := Amount(math.MaxUint64).Mul(2); err != ErrAmountOverflow {
		t.Errorf("expected overflow error but got '%v'", err)
	}
	if _, err := Amount(1).Div(0); err != ErrDivideByZero {
		t.Errorf("expected division by zero error but got '%v'", err)
	}
}

func testDuplicateProofs() Proofs {
	return Proofs{
		{Amount: 1, Id: "id", Secret: "secret1", C: "C1"},
		{Amount: 2, Id: "id", Secret: "secret2", C: "C2"},
		{Amount: 4, Id: "id", Secret: "secret4", C: "C4"},
		{Amount: 8, Id: "id", Secret: "secret8", C: "C8"},
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	proofs := testDuplicateProofs()
	if CheckDuplicateProofs(proofs) {
		t.Error("unexpected duplicates in distinct proofs")
	}

	proofs = append(proofs, Proof{Amount: 1, Id: "id", Secret: "secret1", C: "C1"})
	if !CheckDuplicateProofs(proofs) {
		t.Error("expected duplicates to be detected")
	}
}

func TestBlindedMessagesHasDuplicates(t *testing.T) {
	messages := BlindedMessages{
		{Amount: 1, B_: "02aa", Id: "id"},
		{Amount: 2, B_: "02bb", Id: "id"},
	}
	if messages.HasDuplicates() {
		t.Error("unexpected duplicates in distinct messages")
	}

	messages = append(messages, BlindedMessage{Amount: 4, B_: "02aa", Id: "id"})
	if !messages.HasDuplicates() {
		t.Error("expected duplicate blinded point to be detected")
	}
}

func TestProofsAmountOverflow(t *testing.T) {
	proofs := Proofs{
		{Amount: math.MaxUint64, Secret: "a"},
		{Amount: 1, Secret: "b"},
	}
	if _, err := proofs.Amount(); err != ErrAmountOverflow {
		t.Errorf("expected overflow error but got '%v'", err)
	}
}
