package mint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/scripmint/scrip/ecash"
)

type MintServer struct {
	httpServer *http.Server
	mint       *Mint
	logger     *slog.Logger
}

func SetupMintServer(mint *Mint, addr string, logger *slog.Logger) *MintServer {
	if logger == nil {
		logger = slog.Default()
	}
	mintServer := &MintServer{mint: mint, logger: logger}
	mintServer.setupHttpServer(addr)
	return mintServer
}

func (ms *MintServer) Start() error {
	ms.logger.Info("mint server listening on " + ms.httpServer.Addr)
	if err := ms.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ms *MintServer) Shutdown(ctx context.Context) error {
	return ms.httpServer.Shutdown(ctx)
}

func (ms *MintServer) setupHttpServer(addr string) {
	r := mux.NewRouter()

	r.HandleFunc("/v1/keys", ms.getActiveKeys).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys/{id}", ms.getKeysetKeys).Methods(http.MethodGet)
	r.HandleFunc("/v1/keysets", ms.getKeysetsList).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", ms.getInfo).Methods(http.MethodGet)

	r.HandleFunc("/v1/swap", ms.swapRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/exchange", ms.exchangeRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/checkstate", ms.checkProofStates).Methods(http.MethodPost)

	r.HandleFunc("/v1/mint/quote/onchain", ms.mintQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/onchain/{quote_id}", ms.getMintQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/onchain", ms.mintTokensRequest).Methods(http.MethodPost)

	r.HandleFunc("/v1/melt/quote/onchain", ms.meltQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/onchain/{quote_id}", ms.getMeltQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/melt/onchain", ms.meltTokensRequest).Methods(http.MethodPost)

	ms.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
}

// Handler returns the server's router, used to stand the mint up
// behind a test server.
func (ms *MintServer) Handler() http.Handler {
	return ms.httpServer.Handler
}

func (ms *MintServer) getActiveKeys(rw http.ResponseWriter, req *http.Request) {
	keysets := make([]ecash.KeyResponse, 0, len(ms.mint.activeKeysets))
	for _, keyset := range ms.mint.activeKeysets {
		keysets = append(keysets, ecash.KeyResponse{
			Id:   keyset.Id,
			Unit: ecash.CurrencyUnit(keyset.Unit),
			Keys: keyset.PublicKeys(),
		})
	}
	ms.writeResponse(rw, req, ecash.KeysResponse{Keysets: keysets})
}

func (ms *MintServer) getKeysetKeys(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	keyset, ok := ms.mint.Keyset(vars["id"])
	if !ok {
		ms.writeErr(rw, req, ecash.ErrKeysetNotFound)
		return
	}

	response := ecash.KeysResponse{Keysets: []ecash.KeyResponse{{
		Id:   keyset.Id,
		Unit: ecash.CurrencyUnit(keyset.Unit),
		Keys: keyset.PublicKeys(),
	}}}
	ms.writeResponse(rw, req, response)
}

func (ms *MintServer) getKeysetsList(rw http.ResponseWriter, req *http.Request) {
	keysets := ms.mint.Keysets()
	response := ecash.KeysetsResponse{Keysets: make([]ecash.KeysetResponse, len(keysets))}
	for i, keyset := range keysets {
		response.Keysets[i] = ecash.KeysetResponse{
			Id:     keyset.Id,
			Unit:   ecash.CurrencyUnit(keyset.Unit),
			Active: keyset.Active,
		}
	}
	ms.writeResponse(rw, req, response)
}

func (ms *MintServer) getInfo(rw http.ResponseWriter, req *http.Request) {
	ms.writeResponse(rw, req, ecash.InfoResponse{
		Name:          ms.mint.config.MintInfo.Name,
		Version:       ms.mint.config.MintInfo.Version,
		PayoutAddress: ms.mint.PayoutAddress(),
	})
}

func (ms *MintServer) swapRequest(rw http.ResponseWriter, req *http.Request) {
	var swapRequest ecash.PostSwapRequest
	if err := decodeJsonReqBody(req, &swapRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	signatures, err := ms.mint.Swap(req.Context(), swapRequest.Inputs, swapRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostSwapResponse{Signatures: signatures})
}

func (ms *MintServer) exchangeRequest(rw http.ResponseWriter, req *http.Request) {
	var exchangeRequest ecash.PostExchangeRequest
	if err := decodeJsonReqBody(req, &exchangeRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	signatures, err := ms.mint.Exchange(req.Context(), exchangeRequest.Amount,
		exchangeRequest.Inputs, exchangeRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostExchangeResponse{Signatures: signatures})
}

func (ms *MintServer) checkProofStates(rw http.ResponseWriter, req *http.Request) {
	var stateRequest ecash.PostCheckStateRequest
	if err := decodeJsonReqBody(req, &stateRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	states, err := ms.mint.ProofStates(req.Context(), stateRequest.Ys)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostCheckStateResponse{States: states})
}

func (ms *MintServer) mintQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	var quoteRequest ecash.PostMintQuoteOnchainRequest
	if err := decodeJsonReqBody(req, &quoteRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	unit := ecash.Sat
	if quoteRequest.Unit != "" {
		parsed, err := ecash.ParseCurrencyUnit(string(quoteRequest.Unit))
		if err != nil {
			ms.writeErr(rw, req, ecash.UnitNotSupportedErr)
			return
		}
		unit = parsed
	}
	quote, err := ms.mint.RequestMintQuote(req.Context(), quoteRequest.Amount, unit)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostMintQuoteOnchainResponse{
		Quote:     quote.Id,
		Reference: quote.Reference,
		Amount:    quote.Amount,
		Fee:       quote.Fee,
		Unit:      ecash.CurrencyUnit(quote.Unit),
		State:     ecash.QuoteState(quote.State),
		Expiry:    quote.Expiry,
	})
}

func (ms *MintServer) getMintQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	quote, err := ms.mint.GetMintQuote(req.Context(), vars["quote_id"])
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostMintQuoteOnchainResponse{
		Quote:     quote.Id,
		Reference: quote.Reference,
		Amount:    quote.Amount,
		Fee:       quote.Fee,
		Unit:      ecash.CurrencyUnit(quote.Unit),
		State:     ecash.QuoteState(quote.State),
		Expiry:    quote.Expiry,
	})
}

func (ms *MintServer) mintTokensRequest(rw http.ResponseWriter, req *http.Request) {
	var mintRequest ecash.PostMintOnchainRequest
	if err := decodeJsonReqBody(req, &mintRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	signatures, err := ms.mint.MintTokens(req.Context(), mintRequest.Quote, mintRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostMintOnchainResponse{Signatures: signatures})
}

func (ms *MintServer) meltQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	var quoteRequest ecash.PostMeltQuoteOnchainRequest
	if err := decodeJsonReqBody(req, &quoteRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.RequestMeltQuote(req.Context(), quoteRequest.Amount, quoteRequest.Address)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostMeltQuoteOnchainResponse{
		Quote:       quote.Id,
		Amount:      quote.Amount,
		Fee:         quote.Fee,
		State:       ecash.QuoteState(quote.State),
		Expiry:      quote.Expiry,
		Description: quote.Description,
	})
}

func (ms *MintServer) getMeltQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	quote, err := ms.mint.GetMeltQuote(req.Context(), vars["quote_id"])
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostMeltQuoteOnchainResponse{
		Quote:       quote.Id,
		Amount:      quote.Amount,
		Fee:         quote.Fee,
		State:       ecash.QuoteState(quote.State),
		Expiry:      quote.Expiry,
		Description: quote.Description,
	})
}

func (ms *MintServer) meltTokensRequest(rw http.ResponseWriter, req *http.Request) {
	var meltRequest ecash.PostMeltOnchainRequest
	if err := decodeJsonReqBody(req, &meltRequest); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	quote, err := ms.mint.MeltTokens(req.Context(), meltRequest.Quote, meltRequest.Inputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	ms.writeResponse(rw, req, ecash.PostMeltOnchainResponse{
		State: ecash.QuoteState(quote.State),
		TxId:  quote.TxId,
	})
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, req *http.Request, response any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(response); err != nil {
		ms.logger.Error("error writing response", slog.String("error", err.Error()))
		return
	}
	ms.logger.Info("returned response",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
	)
}

func (ms *MintServer) writeErr(rw http.ResponseWriter, req *http.Request, err error) {
	var ecashErr *ecash.Error
	switch e := err.(type) {
	case *ecash.Error:
		ecashErr = e
	case ecash.Error:
		ecashErr = &e
	default:
		ecashErr = ecash.BuildError(err.Error(), ecash.StandardErrCode)
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(rw).Encode(ecashErr)

	ms.logger.Warn("request error",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.String("detail", ecashErr.Detail),
		slog.Int("code", int(ecashErr.Code)),
	)
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return ecash.StandardErr
	}
	if len(body) == 0 {
		return ecash.EmptyBodyErr
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return ecash.BuildError("invalid request body", ecash.StandardErrCode)
	}
	return nil
}
