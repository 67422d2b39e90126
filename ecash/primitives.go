package ecash

// Request and response objects exchanged between mint and wallet.

type PostSwapRequest struct {
	Inputs  Proofs          `json:"inputs"`
	Outputs BlindedMessages `json:"outputs"`
}

type PostSwapResponse struct {
	Signatures BlindedSignatures `json:"signatures"`
}

type PostExchangeRequest struct {
	Amount  uint64          `json:"amount"`
	Inputs  Proofs          `json:"inputs"`
	Outputs BlindedMessages `json:"outputs"`
}

type PostExchangeResponse struct {
	Signatures BlindedSignatures `json:"signatures"`
}

type PostMintQuoteOnchainRequest struct {
	Amount uint64       `json:"amount"`
	Unit   CurrencyUnit `json:"unit"`
}

type PostMintQuoteOnchainResponse struct {
	Quote     string       `json:"quote"`
	Reference string       `json:"reference"`
	Amount    uint64       `json:"amount"`
	Fee       uint64       `json:"fee"`
	Unit      CurrencyUnit `json:"unit"`
	State     QuoteState   `json:"state"`
	Expiry    uint64       `json:"expiry"`
}

type PostMintOnchainRequest struct {
	Quote   string          `json:"quote"`
	Outputs BlindedMessages `json:"outputs"`
}

type PostMintOnchainResponse struct {
	Signatures BlindedSignatures `json:"signatures"`
}

type PostMeltQuoteOnchainRequest struct {
	Amount uint64 `json:"amount"`
	// onchain address the melted amount gets paid out to
	Address string `json:"address"`
}

type PostMeltQuoteOnchainResponse struct {
	Quote       string     `json:"quote"`
	Amount      uint64     `json:"amount"`
	Fee         uint64     `json:"fee"`
	State       QuoteState `json:"state"`
	Expiry      uint64     `json:"expiry"`
	Description string     `json:"description,omitempty"`
}

type PostMeltOnchainRequest struct {
	Quote  string `json:"quote"`
	Inputs Proofs `json:"inputs"`
}

type PostMeltOnchainResponse struct {
	State QuoteState `json:"state"`
	TxId  string     `json:"txid,omitempty"`
}

type PostCheckStateRequest struct {
	Ys []string `json:"Ys"`
}

type ProofStatus struct {
	Y       string     `json:"Y"`
	State   ProofState `json:"state"`
	Witness string     `json:"witness,omitempty"`
}

type PostCheckStateResponse struct {
	States []ProofStatus `json:"states"`
}

type KeyResponse struct {
	Id   string            `json:"id"`
	Unit CurrencyUnit      `json:"unit"`
	Keys map[uint64]string `json:"keys"`
}

type KeysResponse struct {
	Keysets []KeyResponse `json:"keysets"`
}

type KeysetResponse struct {
	Id     string       `json:"id"`
	Unit   CurrencyUnit `json:"unit"`
	Active bool         `json:"active"`
}

type KeysetsResponse struct {
	Keysets []KeysetResponse `json:"keysets"`
}

type InfoResponse struct {
	Name          string `json:"name,omitempty"`
	Version       string `json:"version,omitempty"`
	PayoutAddress string `json:"payout_address,omitempty"`
}
