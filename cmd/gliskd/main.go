// Copyright 2025 The gliskd Authors
// This file is part of gliskd.
//
// gliskd is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// gliskd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with gliskd. If not, see <http://www.gnu.org/licenses/>.

// gliskd is the lifecycle daemon of the GLISK generative-NFT platform: it
// ingests BatchMinted events, generates and pins token content, and reveals
// finished tokens on chain in gas-bounded batches.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/glisk/gliskd/api"
	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/ingest"
	"github.com/glisk/gliskd/internal/debug"
	"github.com/glisk/gliskd/internal/flags"
	"github.com/glisk/gliskd/internal/version"
	"github.com/glisk/gliskd/pinata"
	"github.com/glisk/gliskd/pipeline"
	"github.com/glisk/gliskd/recovery"
	"github.com/glisk/gliskd/replicate"
	"github.com/glisk/gliskd/store"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"GLISK_CONFIG"},
	}

	dbURLFlag = &cli.StringFlag{
		Name:    "db.url",
		Usage:   "Postgres connection URL",
		EnvVars: []string{"GLISK_DATABASE_URL"},
	}
	dbPoolSizeFlag = &cli.IntFlag{
		Name:    "db.poolsize",
		Usage:   "Maximum open database connections",
		EnvVars: []string{"GLISK_DB_POOL_SIZE"},
	}

	httpHostFlag = &cli.StringFlag{
		Name:    "http.host",
		Usage:   "HTTP listen interface",
		EnvVars: []string{"GLISK_HTTP_HOST"},
	}
	httpPortFlag = &cli.IntFlag{
		Name:    "http.port",
		Usage:   "HTTP listen port",
		EnvVars: []string{"GLISK_HTTP_PORT"},
	}
	webhookSecretFlag = &cli.StringFlag{
		Name:    "webhook.secret",
		Usage:   "HMAC secret shared with the event delivery provider",
		EnvVars: []string{"GLISK_WEBHOOK_SIGNING_KEY"},
	}

	rpcURLFlag = &cli.StringFlag{
		Name:    "chain.rpcurl",
		Usage:   "Execution node JSON-RPC endpoint",
		EnvVars: []string{"GLISK_RPC_URL"},
	}
	networkFlag = &cli.StringFlag{
		Name:    "chain.network",
		Usage:   "Network label for logs",
		EnvVars: []string{"GLISK_NETWORK"},
	}
	contractFlag = &cli.StringFlag{
		Name:    "chain.contract",
		Usage:   "Season contract address",
		EnvVars: []string{"GLISK_CONTRACT_ADDRESS"},
	}
	explorerFlag = &cli.StringFlag{
		Name:    "chain.explorer",
		Usage:   "Block explorer base URL for log links",
		EnvVars: []string{"GLISK_EXPLORER_URL"},
	}

	keeperKeyFlag = &cli.StringFlag{
		Name:    "keeper.key",
		Usage:   "Keeper wallet private key (hex)",
		EnvVars: []string{"GLISK_KEEPER_PRIVATE_KEY"},
	}
	gasBufferFlag = &cli.IntFlag{
		Name:    "keeper.gasbuffer",
		Usage:   "Percent safety margin on gas estimate and priority fee",
		EnvVars: []string{"GLISK_GAS_BUFFER_PERCENT"},
	}
	maxGasPriceFlag = &cli.Int64Flag{
		Name:    "keeper.maxgasprice",
		Usage:   "Cap on maxFeePerGas in gwei (0 disables)",
		EnvVars: []string{"GLISK_MAX_GAS_PRICE_GWEI"},
	}
	txTimeoutFlag = &cli.DurationFlag{
		Name:    "keeper.txtimeout",
		Usage:   "Reveal confirmation wait",
		EnvVars: []string{"GLISK_TRANSACTION_TIMEOUT"},
	}

	imagesTokenFlag = &cli.StringFlag{
		Name:    "images.token",
		Usage:   "Text-to-image API token",
		EnvVars: []string{"REPLICATE_API_TOKEN"},
	}
	imagesModelFlag = &cli.StringFlag{
		Name:    "images.model",
		Usage:   "Text-to-image model identifier",
		EnvVars: []string{"REPLICATE_MODEL_VERSION"},
	}
	defaultPromptFlag = &cli.StringFlag{
		Name:    "images.defaultprompt",
		Usage:   "Prompt of last resort when no author prompt exists",
		EnvVars: []string{"GLISK_DEFAULT_PROMPT"},
	}
	fallbackPromptFlag = &cli.StringFlag{
		Name:    "images.fallbackprompt",
		Usage:   "Replacement prompt after a content policy rejection",
		EnvVars: []string{"GLISK_FALLBACK_CENSORED_PROMPT"},
	}
	defaultAuthorFlag = &cli.StringFlag{
		Name:    "images.defaultauthor",
		Usage:   "Wallet of the default author profile",
		EnvVars: []string{"GLISK_DEFAULT_AUTHOR_WALLET"},
	}

	pinJWTFlag = &cli.StringFlag{
		Name:    "pinning.jwt",
		Usage:   "Pinning service JWT",
		EnvVars: []string{"PINATA_JWT"},
	}
	pinGatewayFlag = &cli.StringFlag{
		Name:    "pinning.gateway",
		Usage:   "IPFS gateway domain for display URLs",
		EnvVars: []string{"PINATA_GATEWAY"},
	}

	pollIntervalFlag = &cli.DurationFlag{
		Name:    "workers.poll",
		Usage:   "Idle sleep between worker queue polls",
		EnvVars: []string{"GLISK_WORKER_POLL_INTERVAL"},
	}
	batchSizeFlag = &cli.IntFlag{
		Name:    "workers.batch",
		Usage:   "Generate/upload claim size",
		EnvVars: []string{"GLISK_WORKER_BATCH_SIZE"},
	}
	revealBatchFlag = &cli.IntFlag{
		Name:    "workers.revealbatch",
		Usage:   "Reveal transaction batch size (max 50)",
		EnvVars: []string{"GLISK_REVEAL_BATCH_SIZE"},
	}
	revealWaitFlag = &cli.DurationFlag{
		Name:    "workers.revealwait",
		Usage:   "Accumulation pause before topping up a partial reveal batch",
		EnvVars: []string{"GLISK_REVEAL_BATCH_WAIT"},
	}
	recoveryBatchFlag = &cli.Uint64Flag{
		Name:    "workers.recoverybatch",
		Usage:   "Block window width for event log replay",
		EnvVars: []string{"GLISK_RECOVERY_BATCH_SIZE"},
	}
)

var daemonFlags = flags.Merge([]cli.Flag{
	configFileFlag,
	dbURLFlag, dbPoolSizeFlag,
	httpHostFlag, httpPortFlag, webhookSecretFlag,
	rpcURLFlag, networkFlag, contractFlag, explorerFlag,
	keeperKeyFlag, gasBufferFlag, maxGasPriceFlag, txTimeoutFlag,
	imagesTokenFlag, imagesModelFlag, defaultPromptFlag, fallbackPromptFlag, defaultAuthorFlag,
	pinJWTFlag, pinGatewayFlag,
	pollIntervalFlag, batchSizeFlag, revealBatchFlag, revealWaitFlag, recoveryBatchFlag,
}, debug.Flags)

var app = flags.NewApp("the GLISK token lifecycle daemon")

var versionCommand = &cli.Command{
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Action: func(ctx *cli.Context) error {
		fmt.Println("gliskd", version.WithCommit())
		fmt.Println("Go sdk:", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	app.Name = "gliskd"
	app.Flags = daemonFlags
	app.Action = runDaemon
	app.Commands = []*cli.Command{
		recoverEventsCommand,
		recoverTokensCommand,
		versionCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		flags.CheckEnvVars(daemonFlags, "GLISK_")
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDaemon is the default action: gap repair, then workers, then HTTP.
func runDaemon(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Keeper.PrivateKey == "" {
		return fmt.Errorf("keeper.key is required for the daemon")
	}
	log.Info("Starting gliskd",
		"network", cfg.Chain.Network,
		"contract", cfg.Chain.ContractAddress,
		"listen", cfg.ListenAddr(),
		"keeper.key", redact(cfg.Keeper.PrivateKey))

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	st, err := store.Open(rootCtx, cfg.DB.URL, cfg.DB.PoolSize)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureSchema(rootCtx); err != nil {
		return err
	}

	client, err := chain.Dial(rootCtx, cfg.Chain.RPCURL, cfg.Chain.Network)
	if err != nil {
		return err
	}
	defer client.Close()
	contract := chain.NewContract(client, common.HexToAddress(cfg.Chain.ContractAddress))
	keeper, err := chain.NewKeeper(client, contract, cfg.Keeper.PrivateKey,
		cfg.Keeper.GasBufferPercent, cfg.Keeper.MaxGasPriceGwei,
		cfg.Keeper.ConfirmTimeout, cfg.Chain.ExplorerURL)
	if err != nil {
		return err
	}

	ingestor := ingest.New(st, cfg.Images.DefaultAuthorWallet)

	// Gap repair runs synchronously: the first webhook must not observe a
	// store that is behind chain state.
	repair := recovery.NewTokenRecovery(st, contract, ingestor)
	if _, err := repair.Run(rootCtx, 0, false); err != nil {
		return fmt.Errorf("startup gap repair: %w", err)
	}

	supervisor := pipeline.NewSupervisor(
		pipeline.NewGenerateWorker(st,
			replicate.NewClient(cfg.Images.APIToken, cfg.Images.Model),
			cfg.Images.DefaultAuthorWallet, cfg.Images.DefaultPrompt, cfg.Images.FallbackPrompt,
			cfg.Workers.BatchSize, cfg.Workers.PollInterval),
		pipeline.NewUploadWorker(st,
			pinata.NewClient(cfg.Pinning.JWT, cfg.Pinning.Gateway),
			cfg.Workers.BatchSize, cfg.Workers.PollInterval),
		pipeline.NewRevealWorker(st, contract, keeper,
			cfg.Workers.RevealBatchSize, cfg.Workers.RevealBatchWait, cfg.Workers.PollInterval),
		pipeline.NewDepthWorker(st, cfg.Workers.PollInterval),
	)
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Run(rootCtx)
		close(supervisorDone)
	}()

	server := api.NewServer(st, ingestor, cfg.Chain.ContractAddress,
		cfg.HTTP.WebhookSecret, cfg.ListenAddr())
	if err := server.Start(); err != nil {
		cancel()
		<-supervisorDone
		return err
	}

	<-rootCtx.Done()

	// Shutdown order: stop accepting, then drain workers, then the pool.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "err", err)
	}
	<-supervisorDone
	log.Info("Shutdown complete")
	return nil
}

// handleSignals cancels the root context on the first signal and hard-exits
// on the second.
func handleSignals(cancel context.CancelFunc) {
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	log.Info("Shutting down", "signal", sig)
	cancel()
	sig = <-sigc
	log.Crit("Forced exit", "signal", sig)
}
