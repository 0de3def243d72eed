// Copyright 2025 The gliskd Authors
// This file is part of the gliskd library.
//
// The gliskd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The gliskd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the gliskd library. If not, see <http://www.gnu.org/licenses/>.

// Package config holds the daemon configuration and its validation rules.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Config contains every tunable of the gliskd daemon. Fields are grouped by
// subsystem; all of them can be set through the TOML config file, flags or
// environment variables.
type Config struct {
	DB      DBConfig
	HTTP    HTTPConfig
	Chain   ChainConfig
	Keeper  KeeperConfig
	Images  ImagesConfig
	Pinning PinningConfig
	Workers WorkersConfig
}

// DBConfig configures the Postgres connection pool.
type DBConfig struct {
	// URL is a libpq connection string or postgres:// URL.
	URL string

	// PoolSize caps the number of open connections. Worker claims hold a
	// connection each, so this must exceed the sum of batch sizes.
	PoolSize int
}

// HTTPConfig configures the webhook/API listener.
type HTTPConfig struct {
	Host string
	Port int

	// WebhookSecret is the HMAC-SHA256 signing key shared with the event
	// delivery provider. Empty disables webhook authentication (tests only).
	WebhookSecret string
}

// ChainConfig locates the season contract on its network.
type ChainConfig struct {
	// RPCURL is the JSON-RPC endpoint of an execution node.
	RPCURL string

	// Network is a human label for log lines, e.g. "base-sepolia".
	Network string

	// ContractAddress is the deployed season contract (hex).
	ContractAddress string

	// ExplorerURL is the block explorer base used in actionable error
	// messages, without trailing slash.
	ExplorerURL string
}

// KeeperConfig configures the reveal transaction sender.
type KeeperConfig struct {
	// PrivateKey is the keeper wallet key as 0x-prefixed hex.
	PrivateKey string

	// GasBufferPercent is applied to the gas estimate and to the priority
	// fee, e.g. 20 means limit = estimate * 1.20.
	GasBufferPercent int

	// MaxGasPriceGwei caps maxFeePerGas. Zero disables the cap.
	MaxGasPriceGwei int64

	// ConfirmTimeout bounds the wait for a reveal receipt.
	ConfirmTimeout time.Duration
}

// ImagesConfig configures the text-to-image provider.
type ImagesConfig struct {
	// APIToken authenticates against the image generation API.
	APIToken string

	// Model is the provider model identifier.
	Model string

	// DefaultPrompt is used when neither the token author nor the default
	// author has a prompt configured. Empty means such tokens fail.
	DefaultPrompt string

	// FallbackPrompt replaces prompts rejected by the provider's content
	// policy. Must be conservative enough to always pass.
	FallbackPrompt string

	// DefaultAuthorWallet is the wallet whose Author row supplies prompts
	// for tokens with unknown authors. The row must exist.
	DefaultAuthorWallet string
}

// PinningConfig configures the IPFS pinning provider.
type PinningConfig struct {
	// JWT is the pinning service API token.
	JWT string

	// Gateway is the gateway domain used to build display URLs.
	Gateway string
}

// WorkersConfig tunes the pipeline workers.
type WorkersConfig struct {
	// PollInterval is the idle sleep between queue polls.
	PollInterval time.Duration

	// BatchSize bounds one generate/upload claim.
	BatchSize int

	// RevealBatchSize bounds one reveal transaction (contract max 50).
	RevealBatchSize int

	// RevealBatchWait is the accumulation pause before the second reveal
	// claim when the first came back partial.
	RevealBatchWait time.Duration

	// RecoveryBatchSize is the block window width for event log replay.
	RecoveryBatchSize uint64
}

// Defaults returns the config every deployment starts from.
func Defaults() Config {
	return Config{
		DB: DBConfig{
			PoolSize: 200,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Chain: ChainConfig{
			Network:     "base-sepolia",
			ExplorerURL: "https://sepolia.basescan.org",
		},
		Keeper: KeeperConfig{
			GasBufferPercent: 20,
			ConfirmTimeout:   180 * time.Second,
		},
		Images: ImagesConfig{
			Model:          "black-forest-labs/flux-schnell",
			FallbackPrompt: "A colorful abstract composition of flowing shapes and soft gradients",
		},
		Pinning: PinningConfig{
			Gateway: "gateway.pinata.cloud",
		},
		Workers: WorkersConfig{
			PollInterval:      5 * time.Second,
			BatchSize:         10,
			RevealBatchSize:   50,
			RevealBatchWait:   5 * time.Second,
			RecoveryBatchSize: 1000,
		},
	}
}

// Sanitize validates the config and normalizes derived fields. It returns an
// error naming the first offending field, suitable for startup failure.
func (c *Config) Sanitize() error {
	if c.DB.URL == "" {
		return errors.New("db.url is required")
	}
	if c.DB.PoolSize < 1 {
		return fmt.Errorf("db.poolsize must be positive, got %d", c.DB.PoolSize)
	}
	minPool := 2*c.Workers.BatchSize + c.Workers.RevealBatchSize + 2
	if c.DB.PoolSize < minPool {
		return fmt.Errorf("db.poolsize %d too small for batch sizes, need at least %d", c.DB.PoolSize, minPool)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpcurl is required")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("chain.contractaddress is not a hex address: %q", c.Chain.ContractAddress)
	}
	// Normalize to the checksummed form so log lines and DB rows agree.
	c.Chain.ContractAddress = common.HexToAddress(c.Chain.ContractAddress).Hex()

	if c.Keeper.PrivateKey != "" {
		key := c.Keeper.PrivateKey
		if len(key) >= 2 && key[0:2] == "0x" {
			key = key[2:]
		}
		if _, err := crypto.HexToECDSA(key); err != nil {
			return fmt.Errorf("keeper.privatekey invalid: %v", err)
		}
		c.Keeper.PrivateKey = key
	}
	if c.Keeper.GasBufferPercent < 0 || c.Keeper.GasBufferPercent > 500 {
		return fmt.Errorf("keeper.gasbufferpercent out of range: %d", c.Keeper.GasBufferPercent)
	}
	if c.Keeper.MaxGasPriceGwei < 0 {
		return fmt.Errorf("keeper.maxgaspricegwei must not be negative, got %d", c.Keeper.MaxGasPriceGwei)
	}
	if c.Keeper.ConfirmTimeout <= 0 {
		return errors.New("keeper.confirmtimeout must be positive")
	}
	if c.Images.DefaultAuthorWallet != "" {
		if !common.IsHexAddress(c.Images.DefaultAuthorWallet) {
			return fmt.Errorf("images.defaultauthorwallet is not a hex address: %q", c.Images.DefaultAuthorWallet)
		}
		c.Images.DefaultAuthorWallet = common.HexToAddress(c.Images.DefaultAuthorWallet).Hex()
	}
	if c.Workers.PollInterval <= 0 {
		return errors.New("workers.pollinterval must be positive")
	}
	if c.Workers.BatchSize < 1 {
		return fmt.Errorf("workers.batchsize must be positive, got %d", c.Workers.BatchSize)
	}
	if c.Workers.RevealBatchSize < 1 || c.Workers.RevealBatchSize > 50 {
		return fmt.Errorf("workers.revealbatchsize must be in [1,50], got %d", c.Workers.RevealBatchSize)
	}
	if c.Workers.RecoveryBatchSize < 1 {
		return errors.New("workers.recoverybatchsize must be positive")
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
