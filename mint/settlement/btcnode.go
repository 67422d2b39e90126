package settlement

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
)

// BtcNode settles through a bitcoin node wallet over JSON-RPC.
// References are fresh deposit addresses: confirming an incoming
// payment checks the amount received by the reference address, and
// payouts are plain sends. Amounts are satoshis.
type BtcNode struct {
	client      *rpcclient.Client
	chainParams *chaincfg.Params
	minConf     int
}

type BtcNodeConfig struct {
	RPCHost     string
	RPCUser     string
	RPCPassword string
	ChainParams *chaincfg.Params
	// MinConfirmations for an incoming payment to count as settled
	MinConfirmations int
}

func NewBtcNode(config BtcNodeConfig) (*BtcNode, error) {
	connConfig := &rpcclient.ConnConfig{
		Host:         config.RPCHost,
		User:         config.RPCUser,
		Pass:         config.RPCPassword,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("error setting up btc node connection: %v", err)
	}

	chainParams := config.ChainParams
	if chainParams == nil {
		chainParams = &chaincfg.MainNetParams
	}
	minConf := config.MinConfirmations
	if minConf < 1 {
		minConf = 1
	}

	return &BtcNode{client: client, chainParams: chainParams, minConf: minConf}, nil
}

func (bn *BtcNode) ConfirmIncomingPayment(ctx context.Context, reference string, amount uint64) (bool, error) {
	address, err := btcutil.DecodeAddress(reference, bn.chainParams)
	if err != nil {
		return false, fmt.Errorf("invalid payment reference: %v", err)
	}

	received, err := bn.client.GetReceivedByAddressMinConf(address, bn.minConf)
	if err != nil {
		return false, err
	}

	return uint64(received) >= amount, nil
}

func (bn *BtcNode) ExecutePayout(ctx context.Context, address string, amount uint64) (string, error) {
	payoutAddress, err := btcutil.DecodeAddress(address, bn.chainParams)
	if err != nil {
		return "", fmt.Errorf("invalid payout address: %v", err)
	}

	txHash, err := bn.client.SendToAddress(payoutAddress, btcutil.Amount(amount))
	if err != nil {
		return "", err
	}

	return txHash.String(), nil
}

func (bn *BtcNode) NewReference() (string, error) {
	address, err := bn.client.GetNewAddress("")
	if err != nil {
		return "", err
	}
	return address.EncodeAddress(), nil
}

func (bn *BtcNode) PayoutAddress() string {
	// incoming payments go to the per-quote reference address
	return ""
}

func (bn *BtcNode) Shutdown() {
	bn.client.Shutdown()
}
