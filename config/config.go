// Package config loads node settings from the environment, optionally
// populated from a local .env file.
package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

const (
	envDBDir     = "LEDGER_DB_DIR"
	envWalletDir = "LEDGER_WALLET_DIR"
	envNodeAddr  = "LEDGER_NODE_ADDR"

	defaultDBDir     = "./data/chain"
	defaultWalletDir = "./data/wallets"
	defaultNodeAddr  = "localhost:4000"
)

// Config holds the filesystem and network settings a node needs to start.
type Config struct {
	DBDir     string
	WalletDir string
	NodeAddr  string
}

// Load reads a .env file if one is present in the working directory (a
// missing file is not an error), then builds a Config from the
// environment, falling back to defaults for anything unset.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: could not read .env file: %v", err)
	}

	return Config{
		DBDir:     getEnv(envDBDir, defaultDBDir),
		WalletDir: getEnv(envWalletDir, defaultWalletDir),
		NodeAddr:  getEnv(envNodeAddr, defaultNodeAddr),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
