package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/scripmint/scrip/ecash"
	"github.com/scripmint/scrip/wallet"
)

var w *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	config := wallet.Config{WalletPath: path, MintURL: "http://127.0.0.1:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err == nil {
			envPath = filepath.Join(wd, ".env")
		} else {
			envPath = ""
		}
	}
	if envPath != "" {
		if err := godotenv.Load(envPath); err == nil {
			if mintURL := os.Getenv("MINT_URL"); mintURL != "" {
				config.MintURL = mintURL
			}
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".scrip", "wallet")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func setupWallet(ctx *cli.Context) error {
	var err error
	w, err = wallet.LoadWallet(walletConfig())
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "scrip",
		Usage: "e-cash cli wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			infoCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	fmt.Printf("%v\n", w.Balance())
	return nil
}

const quoteFlag = "quote"

var mintCmd = &cli.Command{
	Name:  "mint",
	Usage: "request a mint quote, or redeem a paid one with --quote",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  quoteFlag,
			Usage: "id of a paid quote to redeem tokens for",
		},
	},
	Before: setupWallet,
	Action: mintTokens,
}

func mintTokens(ctx *cli.Context) error {
	if ctx.IsSet(quoteFlag) {
		quoteId := ctx.String(quoteFlag)
		quoteState, err := wallet.GetMintQuoteState(w.MintURL(), quoteId)
		if err != nil {
			printErr(err)
		}
		if quoteState.State != ecash.Paid {
			printErr(errors.New("quote has not been paid"))
		}

		amount, err := w.MintTokens(quoteId, quoteState.Amount)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("%v minted\n", amount)
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	quote, err := w.RequestMint(amount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("quote: %v\n", quote.Quote)
	fmt.Printf("pay %v to reference: %v\n", quote.Fee+amount, quote.Reference)
	fmt.Println("after paying, redeem the tokens using the --quote flag")
	return nil
}

var sendCmd = &cli.Command{
	Name:   "send",
	Before: setupWallet,
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	token, err := w.Send(amount)
	if err != nil {
		printErr(err)
	}

	fmt.Println(token)
	return nil
}

var receiveCmd = &cli.Command{
	Name:   "receive",
	Before: setupWallet,
	Action: receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	amount, err := w.Receive(args.First())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v received\n", amount)
	return nil
}

var payCmd = &cli.Command{
	Name:   "pay",
	Usage:  "pay <amount> <address>",
	Before: setupWallet,
	Action: pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 {
		printErr(errors.New("specify an amount and an address to pay"))
	}
	amount, err := strconv.ParseUint(args.Get(0), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	meltResponse, err := w.Melt(amount, args.Get(1))
	if err != nil {
		printErr(err)
	}

	fmt.Printf("payment state: %v\n", meltResponse.State)
	if meltResponse.TxId != "" {
		fmt.Printf("txid: %v\n", meltResponse.TxId)
	}
	return nil
}

var infoCmd = &cli.Command{
	Name:   "info",
	Before: setupWallet,
	Action: info,
}

func info(ctx *cli.Context) error {
	mintInfo, err := wallet.GetMintInfo(w.MintURL())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("mint: %v\n", w.MintURL())
	fmt.Printf("name: %v\n", mintInfo.Name)
	fmt.Printf("version: %v\n", mintInfo.Version)
	if mintInfo.PayoutAddress != "" {
		fmt.Printf("payout address: %v\n", mintInfo.PayoutAddress)
	}
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
