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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/config"
	"github.com/glisk/gliskd/ingest"
	"github.com/glisk/gliskd/recovery"
	"github.com/glisk/gliskd/store"
)

var (
	fromBlockFlag = &cli.Uint64Flag{
		Name:  "from-block",
		Usage: "First block to replay (0 resumes at the stored watermark)",
	}
	toBlockFlag = &cli.Uint64Flag{
		Name:  "to-block",
		Usage: "Last block to replay, inclusive (0 means current head)",
	}
	dryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Report what would be repaired without writing anything",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum token ids to repair in one run (0 means all)",
	}

	recoverEventsCommand = &cli.Command{
		Name:      "recover-events",
		Usage:     "Replay BatchMinted logs from the chain into the store",
		ArgsUsage: " ",
		Flags: append([]cli.Flag{
			fromBlockFlag, toBlockFlag, dryRunFlag,
		}, daemonFlags...),
		Action: recoverEvents,
		Description: `
Scans the season contract's BatchMinted logs over a block range and persists
any event the webhook path missed. Already-known deliveries are counted as
duplicates and skipped. Without --from-block the scan resumes one block past
the stored watermark; without --to-block it runs to the current head.`,
	}

	recoverTokensCommand = &cli.Command{
		Name:      "recover-tokens",
		Usage:     "Diff on-chain token ids against the store and repair gaps",
		ArgsUsage: " ",
		Flags: append([]cli.Flag{
			limitFlag, dryRunFlag,
		}, daemonFlags...),
		Action: recoverTokens,
		Description: `
Reads nextTokenId from the season contract, finds every id below it that has
no database row, and inserts one with the author and reveal state read back
from the contract. Tokens already revealed on chain are inserted terminal.`,
	}
)

// recoverDeps is the shared wiring of both recovery subcommands.
type recoverDeps struct {
	store    *store.Store
	client   *chain.Client
	contract *chain.Contract
	ingestor *ingest.Ingestor
	cfg      *config.Config
}

func (d *recoverDeps) close() {
	d.client.Close()
	d.store.Close()
}

func dialRecoverDeps(ctx context.Context, cliCtx *cli.Context) (*recoverDeps, error) {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.DB.URL, cfg.DB.PoolSize)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.Network)
	if err != nil {
		st.Close()
		return nil, err
	}
	contract := chain.NewContract(client, common.HexToAddress(cfg.Chain.ContractAddress))
	return &recoverDeps{
		store:    st,
		client:   client,
		contract: contract,
		ingestor: ingest.New(st, cfg.Images.DefaultAuthorWallet),
		cfg:      cfg,
	}, nil
}

// interruptibleContext is cancelled by SIGINT/SIGTERM so a long replay stops
// at a window boundary instead of mid-write.
func interruptibleContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func recoverEvents(cliCtx *cli.Context) error {
	ctx, cancel := interruptibleContext()
	defer cancel()

	deps, err := dialRecoverDeps(ctx, cliCtx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer deps.close()

	replay := recovery.NewEventRecovery(deps.store, deps.contract, deps.client,
		deps.ingestor, deps.cfg.Workers.RecoveryBatchSize)
	res, err := replay.Run(ctx, cliCtx.Uint64(fromBlockFlag.Name), cliCtx.Uint64(toBlockFlag.Name),
		cliCtx.Bool(dryRunFlag.Name))
	switch {
	case errors.Is(err, context.Canceled):
		return cli.Exit("interrupted", 2)
	case err != nil:
		return cli.Exit(err, 1)
	}

	renderEventResult(res)
	if res.Errors > 0 {
		return cli.Exit(fmt.Sprintf("%d logs failed to persist", res.Errors), 2)
	}
	return nil
}

func recoverTokens(cliCtx *cli.Context) error {
	ctx, cancel := interruptibleContext()
	defer cancel()

	deps, err := dialRecoverDeps(ctx, cliCtx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer deps.close()

	repair := recovery.NewTokenRecovery(deps.store, deps.contract, deps.ingestor)
	res, err := repair.Run(ctx, cliCtx.Int(limitFlag.Name), cliCtx.Bool(dryRunFlag.Name))
	switch {
	case errors.Is(err, context.Canceled):
		return cli.Exit("interrupted", 130)
	case err != nil:
		return cli.Exit(err, 1)
	}

	renderTokenResult(res)
	switch {
	case res.Partial():
		return cli.Exit(fmt.Sprintf("%d token ids failed to recover", len(res.Errors)), 2)
	case len(res.Errors) > 0:
		return cli.Exit(fmt.Sprintf("all %d token ids failed to recover", len(res.Errors)), 1)
	}
	return nil
}

func renderEventResult(res *recovery.EventResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"From", "To", "Logs", "Events", "Tokens", "Dups", "Errors"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.Append([]string{
		strconv.FormatUint(res.FromBlock, 10),
		strconv.FormatUint(res.ToBlock, 10),
		strconv.Itoa(res.Logs),
		strconv.Itoa(res.Events),
		strconv.Itoa(res.Tokens),
		strconv.Itoa(res.Dups),
		strconv.Itoa(res.Errors),
	})
	table.Render()
	if res.DryRun {
		fmt.Println("dry run: nothing was written")
	}
}

func renderTokenResult(res *recovery.TokenResult) {
	if res.DryRun {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Missing token id"})
		table.SetAlignment(tablewriter.ALIGN_RIGHT)
		for _, id := range res.Missing {
			table.Append([]string{strconv.FormatInt(id, 10)})
		}
		table.Render()
		fmt.Printf("next token id %d, %d missing rows (dry run, nothing written)\n",
			res.NextTokenID, len(res.Missing))
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Next ID", "Missing", "Recovered", "Revealed", "Skipped", "Errors"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.Append([]string{
		strconv.FormatInt(res.NextTokenID, 10),
		strconv.Itoa(len(res.Missing)),
		strconv.Itoa(res.Recovered),
		strconv.Itoa(res.Revealed),
		strconv.Itoa(res.Skipped),
		strconv.Itoa(len(res.Errors)),
	})
	table.Render()
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "token %d: %v\n", e.TokenID, e.Err)
	}
}
