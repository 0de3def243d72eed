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

// Package flags provides shared CLI app construction helpers.
package flags

import (
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/glisk/gliskd/internal/version"
)

// NewApp creates a cli app with sane defaults and the gliskd version string.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.EnableBashCompletion = true
	app.Version = version.WithCommit()
	app.Usage = usage
	app.Copyright = "Copyright 2025 The gliskd Authors"
	return app
}

// Merge concatenates flag slices.
func Merge(groups ...[]cli.Flag) []cli.Flag {
	var merged []cli.Flag
	for _, group := range groups {
		merged = append(merged, group...)
	}
	return merged
}

// CheckEnvVars warns about environment variables that carry the app prefix
// but match no registered flag, which usually means a typo in a deployment
// manifest.
func CheckEnvVars(flags []cli.Flag, prefix string) {
	known := make(map[string]struct{})
	for _, flag := range flags {
		if docFlag, ok := flag.(cli.DocGenerationFlag); ok {
			for _, envVar := range docFlag.GetEnvVars() {
				known[envVar] = struct{}{}
			}
		}
	}
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := known[name]; !ok {
			log.Warn("Unknown environment variable with app prefix", "name", name)
		}
	}
}
