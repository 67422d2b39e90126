package mint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/scripmint/scrip/ecash"
	"github.com/scripmint/scrip/mint/settlement"
	"github.com/scripmint/scrip/testutils"
)

func testMint(t *testing.T) (*Mint, *settlement.FakeSettler) {
	t.Helper()

	settler := settlement.NewFakeSettler()
	config := Config{
		PrivateKey: "test_master_key",
		Keysets: []KeysetConfig{
			{Unit: ecash.Sat, DerivationPath: "0/0/0"},
		},
		QuoteExpiry: time.Hour,
	}

	m, err := New(config, testutils.NewMemoryMintDB(), settler, nil)
	if err != nil {
		t.Fatalf("error setting up mint: %v", err)
	}
	return m, settler
}

// mintProofs runs the full quote flow and returns spendable proofs
// for amount.
func mintProofs(t *testing.T, m *Mint, settler *settlement.FakeSettler, amount uint64) ecash.Proofs {
	t.Helper()
	ctx := context.Background()

	quote, err := m.RequestMintQuote(ctx, amount, ecash.Sat)
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	settler.MarkPaid(quote.Reference, quote.Amount+quote.Fee)

	keyset, _ := m.ActiveKeyset(ecash.Sat)
	outputs, err := testutils.CreateBlindedOutputs(amount, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	signatures, err := m.MintTokens(ctx, quote.Id, outputs.Messages)
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(keyset.Keys))
	for amt, keypair := range keyset.Keys {
		publicKeys[amt] = keypair.PublicKey
	}

	proofs, err := testutils.ConstructProofs(signatures, outputs, publicKeys)
	if err != nil {
		t.Fatalf("error constructing proofs: %v", err)
	}
	return proofs
}

func TestMintQuoteLifecycle(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	quote, err := m.RequestMintQuote(ctx, 2000, ecash.Sat)
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	if quote.State != string(ecash.Unpaid) {
		t.Errorf("expected state UNPAID but got '%v'", quote.State)
	}
	if quote.Fee != 20 {
		t.Errorf("expected fee 20 but got %v", quote.Fee)
	}

	keyset, _ := m.ActiveKeyset(ecash.Sat)
	outputs, err := testutils.CreateBlindedOutputs(2000, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	// minting before payment fails
	if _, err := m.MintTokens(ctx, quote.Id, outputs.Messages); err != ecash.ErrQuoteNotPaid {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrQuoteNotPaid, err)
	}

	settler.MarkPaid(quote.Reference, quote.Amount+quote.Fee)

	polled, err := m.GetMintQuote(ctx, quote.Id)
	if err != nil {
		t.Fatal(err)
	}
	if polled.State != string(ecash.Paid) {
		t.Errorf("expected state PAID but got '%v'", polled.State)
	}

	signatures, err := m.MintTokens(ctx, quote.Id, outputs.Messages)
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}
	sigAmount, _ := signatures.Amount()
	if uint64(sigAmount) != 2000 {
		t.Errorf("expected signatures totaling 2000 but got %v", sigAmount)
	}
	for _, sig := range signatures {
		if sig.DLEQ == nil {
			t.Error("blinded signature is missing its DLEQ proof")
		}
	}

	// a quote can only be issued once
	if _, err := m.MintTokens(ctx, quote.Id, outputs.Messages); err != ecash.ErrQuoteAlreadyIssued {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrQuoteAlreadyIssued, err)
	}

	// unknown quote
	if _, err := m.MintTokens(ctx, "unknown", outputs.Messages); err != ecash.ErrInvalidQuote {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrInvalidQuote, err)
	}
}

func TestMintTokensAmountMismatch(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	quote, err := m.RequestMintQuote(ctx, 100, ecash.Sat)
	if err != nil {
		t.Fatal(err)
	}
	settler.MarkPaid(quote.Reference, quote.Amount+quote.Fee)

	keyset, _ := m.ActiveKeyset(ecash.Sat)
	outputs, err := testutils.CreateBlindedOutputs(90, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.MintTokens(ctx, quote.Id, outputs.Messages); err != ecash.ErrSwapAmountMismatch {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrSwapAmountMismatch, err)
	}
}

func TestSwap(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 64)
	keyset, _ := m.ActiveKeyset(ecash.Sat)

	outputs, err := testutils.CreateBlindedOutputs(64, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	signatures, err := m.Swap(ctx, proofs, outputs.Messages)
	if err != nil {
		t.Fatalf("error swapping: %v", err)
	}
	sigAmount, _ := signatures.Amount()
	if uint64(sigAmount) != 64 {
		t.Errorf("expected signatures totaling 64 but got %v", sigAmount)
	}
}

func TestSwapAmountMismatch(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 64)
	keyset, _ := m.ActiveKeyset(ecash.Sat)

	outputs, err := testutils.CreateBlindedOutputs(32, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Swap(ctx, proofs, outputs.Messages); err != ecash.ErrSwapAmountMismatch {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrSwapAmountMismatch, err)
	}
}

func TestSwapDuplicateInputs(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 4)
	duplicated := append(proofs, proofs...)
	keyset, _ := m.ActiveKeyset(ecash.Sat)

	outputs, err := testutils.CreateBlindedOutputs(8, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Swap(ctx, duplicated, outputs.Messages); err != ecash.ErrDuplicateProofs {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrDuplicateProofs, err)
	}
}

func TestSwapEmpty(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	// empty in, empty out: amount conservation holds trivially
	signatures, err := m.Swap(ctx, ecash.Proofs{}, ecash.BlindedMessages{})
	if err != nil {
		t.Fatalf("error swapping empty sets: %v", err)
	}
	if len(signatures) != 0 {
		t.Errorf("expected no signatures but got %v", len(signatures))
	}
}

func TestSwapInvalidProof(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 8)
	proofs[0].Secret = "tampered_secret"
	keyset, _ := m.ActiveKeyset(ecash.Sat)

	outputs, err := testutils.CreateBlindedOutputs(8, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Swap(ctx, proofs, outputs.Messages); err != ecash.ErrInvalidProof {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrInvalidProof, err)
	}
}

func TestDoubleSpend(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 16)
	keyset, _ := m.ActiveKeyset(ecash.Sat)

	outputs, err := testutils.CreateBlindedOutputs(16, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Swap(ctx, proofs, outputs.Messages); err != nil {
		t.Fatalf("error swapping: %v", err)
	}

	// spending the same proofs again fails
	outputs2, err := testutils.CreateBlindedOutputs(16, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Swap(ctx, proofs, outputs2.Messages); err != ecash.ErrProofAlreadyUsed {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrProofAlreadyUsed, err)
	}
}

func TestConcurrentDoubleSpend(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 32)
	keyset, _ := m.ActiveKeyset(ecash.Sat)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		outputs, err := testutils.CreateBlindedOutputs(32, keyset.Id)
		if err != nil {
			t.Fatal(err)
		}

		wg.Add(1)
		go func(messages ecash.BlindedMessages) {
			defer wg.Done()
			_, err := m.Swap(ctx, proofs, messages)
			results <- err
		}(outputs.Messages)
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if err != ecash.ErrProofAlreadyUsed {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly 1 successful spend but got %v", successes)
	}
}

func TestExchange(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 24)
	keyset, _ := m.ActiveKeyset(ecash.Sat)

	outputs, err := testutils.CreateBlindedOutputs(24, keyset.Id)
	if err != nil {
		t.Fatal(err)
	}

	// declared amount has to match the inputs
	if _, err := m.Exchange(ctx, 20, proofs, outputs.Messages); err != ecash.ErrSwapAmountMismatch {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrSwapAmountMismatch, err)
	}

	signatures, err := m.Exchange(ctx, 24, proofs, outputs.Messages)
	if err != nil {
		t.Fatalf("error exchanging: %v", err)
	}
	sigAmount, _ := signatures.Amount()
	if uint64(sigAmount) != 24 {
		t.Errorf("expected signatures totaling 24 but got %v", sigAmount)
	}
}

func TestMeltTokens(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 512)

	meltQuote, err := m.RequestMeltQuote(ctx, 500, "payout-address-1")
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}
	if meltQuote.Fee != 5 {
		t.Errorf("expected fee 5 but got %v", meltQuote.Fee)
	}

	melted, err := m.MeltTokens(ctx, meltQuote.Id, proofs)
	if err != nil {
		t.Fatalf("error melting: %v", err)
	}
	if melted.State != string(ecash.Paid) {
		t.Errorf("expected state PAID but got '%v'", melted.State)
	}
	if melted.TxId == "" {
		t.Error("expected a txid on the paid melt quote")
	}

	payouts := settler.Payouts()
	if len(payouts) != 1 {
		t.Fatalf("expected 1 payout but got %v", len(payouts))
	}
	// the payout is net of the mint's fee
	if payouts[0].Address != "payout-address-1" || payouts[0].Amount != 495 {
		t.Errorf("unexpected payout %+v", payouts[0])
	}

	// melted proofs are spent
	states, err := m.ProofStates(ctx, proofs.Ys())
	if err != nil {
		t.Fatal(err)
	}
	for _, state := range states {
		if state.State != ecash.Spent {
			t.Errorf("expected proof state SPENT but got '%v'", state.State)
		}
	}

	// a paid melt quote cannot be melted again
	if _, err := m.MeltTokens(ctx, meltQuote.Id, proofs); err == nil {
		t.Error("expected error melting a paid quote")
	}
}

func TestMeltInsufficientProofs(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 100)

	meltQuote, err := m.RequestMeltQuote(ctx, 150, "payout-address-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.MeltTokens(ctx, meltQuote.Id, proofs); err != ecash.ErrNotEnoughTokens {
		t.Errorf("expected '%v' but got '%v'", ecash.ErrNotEnoughTokens, err)
	}
}

func TestMeltPayoutFailure(t *testing.T) {
	m, settler := testMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, settler, 512)
	settler.FailPayouts = true

	meltQuote, err := m.RequestMeltQuote(ctx, 500, "payout-address-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.MeltTokens(ctx, meltQuote.Id, proofs); err == nil {
		t.Fatal("expected melt to fail when the payout fails")
	}

	// nothing was spent and the quote is still payable
	states, err := m.ProofStates(ctx, proofs.Ys())
	if err != nil {
		t.Fatal(err)
	}
	for _, state := range states {
		if state.State != ecash.Unspent {
			t.Errorf("expected proof state UNSPENT but got '%v'", state.State)
		}
	}

	requeried, err := m.GetMeltQuote(ctx, meltQuote.Id)
	if err != nil {
		t.Fatal(err)
	}
	if requeried.State != string(ecash.Unpaid) {
		t.Errorf("expected state UNPAID but got '%v'", requeried.State)
	}

	// the melt succeeds once payouts work again
	settler.FailPayouts = false
	if _, err := m.MeltTokens(ctx, meltQuote.Id, proofs); err != nil {
		t.Fatalf("error melting after payout recovered: %v", err)
	}
}

func TestRequestMintQuoteLimits(t *testing.T) {
	settler := settlement.NewFakeSettler()
	config := Config{
		PrivateKey: "test_master_key",
		Keysets: []KeysetConfig{
			{Unit: ecash.Sat, DerivationPath: "0/0/0"},
		},
		MinMintAmount: 10,
		MaxMintAmount: 1000,
	}
	m, err := New(config, testutils.NewMemoryMintDB(), settler, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := m.RequestMintQuote(ctx, 5, ecash.Sat); err == nil {
		t.Error("expected error for amount below minimum")
	}
	if _, err := m.RequestMintQuote(ctx, 5000, ecash.Sat); err == nil {
		t.Error("expected error for amount above maximum")
	}
	if _, err := m.RequestMintQuote(ctx, 0, ecash.Sat); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := m.RequestMintQuote(ctx, 100, ecash.USD); err != ecash.UnitNotSupportedErr {
		t.Errorf("expected '%v' but got '%v'", ecash.UnitNotSupportedErr, err)
	}
	if _, err := m.RequestMintQuote(ctx, 100, ecash.Sat); err != nil {
		t.Errorf("error requesting quote within limits: %v", err)
	}
}

func TestKeysetRotation(t *testing.T) {
	db := testutils.NewMemoryMintDB()
	settler := settlement.NewFakeSettler()

	config := Config{
		PrivateKey: "test_master_key",
		Keysets: []KeysetConfig{
			{Unit: ecash.Sat, DerivationPath: "0/0/0"},
		},
	}
	m1, err := New(config, db, settler, nil)
	if err != nil {
		t.Fatal(err)
	}
	oldKeyset, _ := m1.ActiveKeyset(ecash.Sat)

	// restart with a new derivation path rotates the signing keyset
	config.Keysets[0].DerivationPath = "0/0/1"
	m2, err := New(config, db, settler, nil)
	if err != nil {
		t.Fatal(err)
	}

	newKeyset, _ := m2.ActiveKeyset(ecash.Sat)
	if newKeyset.Id == oldKeyset.Id {
		t.Error("expected a different keyset after rotation")
	}

	rotated, ok := m2.Keyset(oldKeyset.Id)
	if !ok {
		t.Fatal("old keyset should still be loaded")
	}
	if rotated.Active {
		t.Error("old keyset should be inactive after rotation")
	}
}
