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

// Package debug sets up the process-wide logger from CLI flags: verbosity,
// JSON output, optional file target with rotation.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:   3,
		EnvVars: []string{"GLISK_VERBOSITY"},
	}
	logJSONFlag = &cli.BoolFlag{
		Name:    "log.json",
		Usage:   "Format logs with JSON",
		EnvVars: []string{"GLISK_LOG_JSON"},
	}
	logFileFlag = &cli.StringFlag{
		Name:    "log.file",
		Usage:   "Write logs to a file (rotated at --log.maxsize)",
		EnvVars: []string{"GLISK_LOG_FILE"},
	}
	logMaxSizeFlag = &cli.IntFlag{
		Name:    "log.maxsize",
		Usage:   "Maximum size in megabytes of a log file before rotation",
		Value:   100,
		EnvVars: []string{"GLISK_LOG_MAXSIZE"},
	}
	logMaxBackupsFlag = &cli.IntFlag{
		Name:    "log.maxbackups",
		Usage:   "Maximum number of rotated log files to retain",
		Value:   10,
		EnvVars: []string{"GLISK_LOG_MAXBACKUPS"},
	}
)

// Flags holds all logging flags.
var Flags = []cli.Flag{
	verbosityFlag, logJSONFlag, logFileFlag, logMaxSizeFlag, logMaxBackupsFlag,
}

var rotator *lumberjack.Logger

// Setup initializes the root logger from the parsed CLI context. It must run
// before any other package logs.
func Setup(ctx *cli.Context) error {
	var output io.Writer = os.Stderr
	useColor := false

	if file := ctx.String(logFileFlag.Name); file != "" {
		rotator = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    ctx.Int(logMaxSizeFlag.Name),
			MaxBackups: ctx.Int(logMaxBackupsFlag.Name),
			Compress:   true,
		}
		output = rotator
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		useColor = true
		output = colorable.NewColorableStderr()
	}

	var handler slog.Handler
	if ctx.Bool(logJSONFlag.Name) {
		handler = log.JSONHandler(output)
	} else {
		handler = log.NewTerminalHandler(output, useColor)
	}
	glogger := log.NewGlogHandler(handler)

	verbosity := ctx.Int(verbosityFlag.Name)
	if verbosity < 0 || verbosity > 5 {
		return fmt.Errorf("verbosity out of range: %d", verbosity)
	}
	glogger.Verbosity(log.FromLegacyLevel(verbosity))
	log.SetDefault(log.NewLogger(glogger))
	return nil
}

// Exit flushes the rotated log file, if any.
func Exit() {
	if rotator != nil {
		rotator.Close()
	}
}
