package wallet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/scripmint/scrip/ecash"
)

// Client talks to one mint over its HTTP API. Error responses are
// decoded into ecash.Error so callers can match on the error code.

func GetMintInfo(mintURL string) (*ecash.InfoResponse, error) {
	var infoResponse ecash.InfoResponse
	if err := get(mintURL+"/v1/info", &infoResponse); err != nil {
		return nil, err
	}
	return &infoResponse, nil
}

func GetActiveKeysets(mintURL string) (*ecash.KeysResponse, error) {
	var keysResponse ecash.KeysResponse
	if err := get(mintURL+"/v1/keys", &keysResponse); err != nil {
		return nil, err
	}
	return &keysResponse, nil
}

func GetAllKeysets(mintURL string) (*ecash.KeysetsResponse, error) {
	var keysetsResponse ecash.KeysetsResponse
	if err := get(mintURL+"/v1/keysets", &keysetsResponse); err != nil {
		return nil, err
	}
	return &keysetsResponse, nil
}

func GetKeysetById(mintURL, id string) (*ecash.KeysResponse, error) {
	var keysResponse ecash.KeysResponse
	if err := get(mintURL+"/v1/keys/"+id, &keysResponse); err != nil {
		return nil, err
	}
	return &keysResponse, nil
}

func PostSwap(mintURL string, swapRequest ecash.PostSwapRequest) (
	*ecash.PostSwapResponse, error) {

	var swapResponse ecash.PostSwapResponse
	if err := httpPost(mintURL+"/v1/swap", swapRequest, &swapResponse); err != nil {
		return nil, err
	}
	return &swapResponse, nil
}

func PostExchange(mintURL string, exchangeRequest ecash.PostExchangeRequest) (
	*ecash.PostExchangeResponse, error) {

	var exchangeResponse ecash.PostExchangeResponse
	if err := httpPost(mintURL+"/v1/exchange", exchangeRequest, &exchangeResponse); err != nil {
		return nil, err
	}
	return &exchangeResponse, nil
}

func PostMintQuoteOnchain(mintURL string, quoteRequest ecash.PostMintQuoteOnchainRequest) (
	*ecash.PostMintQuoteOnchainResponse, error) {

	var quoteResponse ecash.PostMintQuoteOnchainResponse
	if err := httpPost(mintURL+"/v1/mint/quote/onchain", quoteRequest, &quoteResponse); err != nil {
		return nil, err
	}
	return &quoteResponse, nil
}

func GetMintQuoteState(mintURL, quoteId string) (*ecash.PostMintQuoteOnchainResponse, error) {
	var quoteResponse ecash.PostMintQuoteOnchainResponse
	if err := get(mintURL+"/v1/mint/quote/onchain/"+quoteId, &quoteResponse); err != nil {
		return nil, err
	}
	return &quoteResponse, nil
}

func PostMintOnchain(mintURL string, mintRequest ecash.PostMintOnchainRequest) (
	*ecash.PostMintOnchainResponse, error) {

	var mintResponse ecash.PostMintOnchainResponse
	if err := httpPost(mintURL+"/v1/mint/onchain", mintRequest, &mintResponse); err != nil {
		return nil, err
	}
	return &mintResponse, nil
}

func PostMeltQuoteOnchain(mintURL string, quoteRequest ecash.PostMeltQuoteOnchainRequest) (
	*ecash.PostMeltQuoteOnchainResponse, error) {

	var quoteResponse ecash.PostMeltQuoteOnchainResponse
	if err := httpPost(mintURL+"/v1/melt/quote/onchain", quoteRequest, &quoteResponse); err != nil {
		return nil, err
	}
	return &quoteResponse, nil
}

func GetMeltQuoteState(mintURL, quoteId string) (*ecash.PostMeltQuoteOnchainResponse, error) {
	var quoteResponse ecash.PostMeltQuoteOnchainResponse
	if err := get(mintURL+"/v1/melt/quote/onchain/"+quoteId, &quoteResponse); err != nil {
		return nil, err
	}
	return &quoteResponse, nil
}

func PostMeltOnchain(mintURL string, meltRequest ecash.PostMeltOnchainRequest) (
	*ecash.PostMeltOnchainResponse, error) {

	var meltResponse ecash.PostMeltOnchainResponse
	if err := httpPost(mintURL+"/v1/melt/onchain", meltRequest, &meltResponse); err != nil {
		return nil, err
	}
	return &meltResponse, nil
}

func PostCheckProofState(mintURL string, stateRequest ecash.PostCheckStateRequest) (
	*ecash.PostCheckStateResponse, error) {

	var stateResponse ecash.PostCheckStateResponse
	if err := httpPost(mintURL+"/v1/checkstate", stateRequest, &stateResponse); err != nil {
		return nil, err
	}
	return &stateResponse, nil
}

func get(url string, dst any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return parse(resp, dst)
}

func httpPost(url string, request, dst any) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return parse(resp, dst)
}

func parse(response *http.Response, dst any) error {
	if response.StatusCode == http.StatusBadRequest {
		var errResponse ecash.Error
		if err := json.NewDecoder(response.Body).Decode(&errResponse); err != nil {
			return fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return errResponse
	}

	if response.StatusCode != http.StatusOK {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}
		return fmt.Errorf("%s", body)
	}

	if err := json.NewDecoder(response.Body).Decode(dst); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}
