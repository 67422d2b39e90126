package ecash

import (
	"encoding/hex"
	"testing"
)

func TestDecodeTokenV4(t *testing.T) {
	// token generated by a reference implementation
	tokenString := "cashuBpGF0gaJhaUgArSaMTR9YJmFwgaNhYQFhc3hAOWE2ZGJiODQ3YmQyMzJiYTc2ZGIwZGYxOTcyMTZiMjlkM2I4Y2MxNDU1M2NkMjc4MjdmYzFjYzk0MmZlZGI0ZWFjWCEDhhhUP_trhpXfStS6vN6So0qWvc2X3O4NfM-Y1HISZ5JhZGlUaGFuayB5b3VhbXVodHRwOi8vbG9jYWxob3N0OjMzMzhhdWNzYXQ="

	token, err := DecodeTokenV4(tokenString)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if token.Mint() != "http://localhost:3338" {
		t.Errorf("expected mint 'http://localhost:3338' but got '%v'", token.Mint())
	}
	if token.Unit() != Sat {
		t.Errorf("expected unit 'sat' but got '%v'", token.Unit())
	}
	if token.Memo != "Thank you" {
		t.Errorf("expected memo 'Thank you' but got '%v'", token.Memo)
	}

	proofs := token.Proofs()
	if len(proofs) != 1 {
		t.Fatalf("expected 1 proof but got %v", len(proofs))
	}
	if proofs[0].Amount != 1 {
		t.Errorf("expected amount 1 but got %v", proofs[0].Amount)
	}
	if proofs[0].Id != "00ad268c4d1f5826" {
		t.Errorf("expected keyset id '00ad268c4d1f5826' but got '%v'", proofs[0].Id)
	}
	if proofs[0].Secret != "9a6dbb847bd232ba76db0df197216b29d3b8cc14553cd27827fc1cc942fedb4e" {
		t.Errorf("unexpected secret '%v'", proofs[0].Secret)
	}
	expectedC := "038618543ffb6b8695df4ad4babcde92a34a96bdcd97dcee0d7ccf98d472126792"
	if proofs[0].C != expectedC {
		t.Errorf("expected C '%v' but got '%v'", expectedC, proofs[0].C)
	}
}

func testProofs() Proofs {
	return Proofs{
		{
			Amount: 2,
			Id:     "009a1f293253e41e",
			Secret: "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837",
			C:      "02bc9097997d81afb2cc7346b5e4345a9346bd2a506eb7958598a72f0cf85163ea",
		},
		{
			Amount: 8,
			Id:     "009a1f293253e41e",
			Secret: "fe15109314e61d7756b0f8ee0f23a624acaa3f4e042f61433c728c7057b931be",
			C:      "029e8e5050b890a7d6c0968db16bc1d5d5fa040ea1de284f6ec69d61299f671059",
		},
	}
}

func TestTokenV4RoundTrip(t *testing.T) {
	token, err := NewTokenV4(testProofs(), "http://localhost:3338", Sat, false)
	if err != nil {
		t.Fatalf("error creating token: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if serialized[:6] != "cashuB" {
		t.Errorf("expected 'cashuB' prefix but got '%v'", serialized[:6])
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	amount, err := decoded.Amount()
	if err != nil {
		t.Fatal(err)
	}
	if amount != 10 {
		t.Errorf("expected amount 10 but got %v", amount)
	}
	if decoded.Mint() != "http://localhost:3338" {
		t.Errorf("unexpected mint '%v'", decoded.Mint())
	}

	proofs := decoded.Proofs()
	if len(proofs) != 2 {
		t.Fatalf("expected 2 proofs but got %v", len(proofs))
	}
	for _, proof := range proofs {
		if proof.Id != "009a1f293253e41e" {
			t.Errorf("unexpected keyset id '%v'", proof.Id)
		}
		if _, err := hex.DecodeString(proof.C); err != nil {
			t.Errorf("C is not valid hex: %v", proof.C)
		}
	}
}

func TestTokenV3RoundTrip(t *testing.T) {
	token := NewTokenV3(testProofs(), "http://localhost:3338", Sat, false)

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if serialized[:6] != "cashuA" {
		t.Errorf("expected 'cashuA' prefix but got '%v'", serialized[:6])
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	amount, err := decoded.Amount()
	if err != nil {
		t.Fatal(err)
	}
	if amount != 10 {
		t.Errorf("expected amount 10 but got %v", amount)
	}
	if decoded.Unit() != Sat {
		t.Errorf("expected unit 'sat' but got '%v'", decoded.Unit())
	}
}

func TestDecodeTokenErrors(t *testing.T) {
	tests := []string{
		"",
		"cashu",
		"cashuC000000",
		"cashuBnot-valid-base64!!!",
		"cashuAnot-valid-base64!!!",
	}

	for _, tokenString := range tests {
		if _, err := DecodeToken(tokenString); err == nil {
			t.Errorf("expected error decoding '%v'", tokenString)
		}
	}
}
