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
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/glisk/gliskd/config"
)

// tomlSettings makes the TOML decoder strict: a key in the file that has no
// matching Config field is a startup error, not a silent skip.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// loadConfig builds the daemon configuration: defaults, then the TOML file,
// then flags and environment variables on top.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Defaults()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadTOML(file, &cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", file, err)
		}
	}
	applyFlags(ctx, &cfg)
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadTOML(file string, cfg *config.Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(f).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = fmt.Errorf("%v", err)
	}
	return err
}

// applyFlags overrides cfg with every flag the user set, via command line or
// environment variable.
func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet(dbURLFlag.Name) {
		cfg.DB.URL = ctx.String(dbURLFlag.Name)
	}
	if ctx.IsSet(dbPoolSizeFlag.Name) {
		cfg.DB.PoolSize = ctx.Int(dbPoolSizeFlag.Name)
	}
	if ctx.IsSet(httpHostFlag.Name) {
		cfg.HTTP.Host = ctx.String(httpHostFlag.Name)
	}
	if ctx.IsSet(httpPortFlag.Name) {
		cfg.HTTP.Port = ctx.Int(httpPortFlag.Name)
	}
	if ctx.IsSet(webhookSecretFlag.Name) {
		cfg.HTTP.WebhookSecret = ctx.String(webhookSecretFlag.Name)
	}
	if ctx.IsSet(rpcURLFlag.Name) {
		cfg.Chain.RPCURL = ctx.String(rpcURLFlag.Name)
	}
	if ctx.IsSet(networkFlag.Name) {
		cfg.Chain.Network = ctx.String(networkFlag.Name)
	}
	if ctx.IsSet(contractFlag.Name) {
		cfg.Chain.ContractAddress = ctx.String(contractFlag.Name)
	}
	if ctx.IsSet(explorerFlag.Name) {
		cfg.Chain.ExplorerURL = ctx.String(explorerFlag.Name)
	}
	if ctx.IsSet(keeperKeyFlag.Name) {
		cfg.Keeper.PrivateKey = ctx.String(keeperKeyFlag.Name)
	}
	if ctx.IsSet(gasBufferFlag.Name) {
		cfg.Keeper.GasBufferPercent = ctx.Int(gasBufferFlag.Name)
	}
	if ctx.IsSet(maxGasPriceFlag.Name) {
		cfg.Keeper.MaxGasPriceGwei = ctx.Int64(maxGasPriceFlag.Name)
	}
	if ctx.IsSet(txTimeoutFlag.Name) {
		cfg.Keeper.ConfirmTimeout = ctx.Duration(txTimeoutFlag.Name)
	}
	if ctx.IsSet(imagesTokenFlag.Name) {
		cfg.Images.APIToken = ctx.String(imagesTokenFlag.Name)
	}
	if ctx.IsSet(imagesModelFlag.Name) {
		cfg.Images.Model = ctx.String(imagesModelFlag.Name)
	}
	if ctx.IsSet(defaultPromptFlag.Name) {
		cfg.Images.DefaultPrompt = ctx.String(defaultPromptFlag.Name)
	}
	if ctx.IsSet(fallbackPromptFlag.Name) {
		cfg.Images.FallbackPrompt = ctx.String(fallbackPromptFlag.Name)
	}
	if ctx.IsSet(defaultAuthorFlag.Name) {
		cfg.Images.DefaultAuthorWallet = ctx.String(defaultAuthorFlag.Name)
	}
	if ctx.IsSet(pinJWTFlag.Name) {
		cfg.Pinning.JWT = ctx.String(pinJWTFlag.Name)
	}
	if ctx.IsSet(pinGatewayFlag.Name) {
		cfg.Pinning.Gateway = ctx.String(pinGatewayFlag.Name)
	}
	if ctx.IsSet(pollIntervalFlag.Name) {
		cfg.Workers.PollInterval = ctx.Duration(pollIntervalFlag.Name)
	}
	if ctx.IsSet(batchSizeFlag.Name) {
		cfg.Workers.BatchSize = ctx.Int(batchSizeFlag.Name)
	}
	if ctx.IsSet(revealBatchFlag.Name) {
		cfg.Workers.RevealBatchSize = ctx.Int(revealBatchFlag.Name)
	}
	if ctx.IsSet(revealWaitFlag.Name) {
		cfg.Workers.RevealBatchWait = ctx.Duration(revealWaitFlag.Name)
	}
	if ctx.IsSet(recoveryBatchFlag.Name) {
		cfg.Workers.RecoveryBatchSize = ctx.Uint64(recoveryBatchFlag.Name)
	}
}

// redact masks all but the tail of a secret for startup logging.
func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
