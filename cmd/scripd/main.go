package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scripmint/scrip/ecash"
	"github.com/scripmint/scrip/mint"
	"github.com/scripmint/scrip/mint/settlement"
	"github.com/scripmint/scrip/mint/storage/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	path := mintPath()
	db, err := sqlite.InitSQLite(path, migrationPath())
	if err != nil {
		log.Fatalf("error setting up database: %v", err)
	}
	defer db.Close()

	settler, err := setupSettler()
	if err != nil {
		log.Fatalf("error setting up settlement backend: %v", err)
	}

	mintInstance, err := mint.New(mintConfig(), db, settler, logger)
	if err != nil {
		log.Fatalf("error setting up mint: %v", err)
	}

	addr := os.Getenv("MINT_LISTEN_ADDR")
	if addr == "" {
		addr = "127.0.0.1:3338"
	}
	server := mint.SetupMintServer(mintInstance, addr, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("mint server error: %v", err)
	case sig := <-sigChan:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("error shutting down: %v", err)
		}
	}
}

func mintConfig() mint.Config {
	config := mint.Config{
		PrivateKey: os.Getenv("MINT_PRIVATE_KEY"),
		Keysets: []mint.KeysetConfig{
			{Unit: ecash.Sat, DerivationPath: envOrDefault("MINT_DERIVATION_PATH", "0/0/0")},
		},
		MinMintAmount: envUint("MINT_MIN_AMOUNT", 1),
		MaxMintAmount: envUint("MINT_MAX_AMOUNT", 0),
		MinMeltAmount: envUint("MELT_MIN_AMOUNT", 1),
		MaxMeltAmount: envUint("MELT_MAX_AMOUNT", 0),
		MintInfo: mint.MintInfo{
			Name:    envOrDefault("MINT_NAME", "scrip mint"),
			Version: "scripd/0.1.0",
		},
	}

	// a second keyset denominated in usd is published when configured
	if usdPath := os.Getenv("MINT_USD_DERIVATION_PATH"); usdPath != "" {
		config.Keysets = append(config.Keysets, mint.KeysetConfig{
			Unit:           ecash.USD,
			DerivationPath: usdPath,
		})
	}

	return config
}

func setupSettler() (settlement.Settler, error) {
	if os.Getenv("BTC_RPC_HOST") == "" {
		log.Println("BTC_RPC_HOST not set, using fake settlement backend")
		return settlement.NewFakeSettler(), nil
	}

	return settlement.NewBtcNode(settlement.BtcNodeConfig{
		RPCHost:     os.Getenv("BTC_RPC_HOST"),
		RPCUser:     os.Getenv("BTC_RPC_USER"),
		RPCPassword: os.Getenv("BTC_RPC_PASSWORD"),
	})
}

func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".scrip", "mint")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func migrationPath() string {
	if path := os.Getenv("MINT_MIGRATION_PATH"); path != "" {
		return path
	}
	return "mint/storage/sqlite/migrations"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid value for %s: %v", key, err)
	}
	return parsed
}
