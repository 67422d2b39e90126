package mint

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scripmint/scrip/ecash"
	"github.com/scripmint/scrip/mint/settlement"
	"github.com/scripmint/scrip/testutils"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	config := Config{
		PrivateKey: "test_master_key",
		Keysets: []KeysetConfig{
			{Unit: ecash.Sat, DerivationPath: "0/0/0"},
		},
		QuoteExpiry: time.Hour,
	}
	m, err := New(config, testutils.NewMemoryMintDB(), settlement.NewFakeSettler(), nil)
	if err != nil {
		t.Fatalf("error setting up mint: %v", err)
	}

	server := httptest.NewServer(SetupMintServer(m, "127.0.0.1:0", nil).Handler())
	t.Cleanup(server.Close)
	return server
}

func postMintQuote(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/v1/mint/quote/onchain", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMintQuoteUnitParsing(t *testing.T) {
	server := testServer(t)

	// an unknown unit is rejected at the boundary
	resp := postMintQuote(t, server.URL, map[string]any{"amount": 100, "unit": "eur"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 but got %v", resp.StatusCode)
	}
	var quoteErr ecash.Error
	if err := json.NewDecoder(resp.Body).Decode(&quoteErr); err != nil {
		t.Fatal(err)
	}
	if quoteErr.Code != ecash.UnitErrCode {
		t.Errorf("expected error code %v but got %v", ecash.UnitErrCode, quoteErr.Code)
	}

	// no unit defaults to sat
	resp = postMintQuote(t, server.URL, map[string]any{"amount": 100})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 but got %v", resp.StatusCode)
	}
	var quote ecash.PostMintQuoteOnchainResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		t.Fatal(err)
	}
	if quote.Unit != ecash.Sat {
		t.Errorf("expected unit '%v' but got '%v'", ecash.Sat, quote.Unit)
	}

	// a recognized unit without an active keyset is still refused
	resp = postMintQuote(t, server.URL, map[string]any{"amount": 100, "unit": "musd"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 but got %v", resp.StatusCode)
	}
}
