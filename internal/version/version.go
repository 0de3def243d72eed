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

// Package version holds the release identity of the gliskd binaries.
package version

import (
	"fmt"
	"runtime/debug"
)

const (
	Major = 0
	Minor = 4
	Patch = 0
	Meta  = "unstable"
)

// Semantic is the bare version triplet.
var Semantic = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)

// WithMeta carries the release metadata tag.
var WithMeta = func() string {
	if Meta == "" {
		return Semantic
	}
	return Semantic + "-" + Meta
}()

// WithCommit appends the VCS revision when the binary carries build info.
func WithCommit() string {
	v := WithMeta
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
				return v + "-" + setting.Value[:8]
			}
		}
	}
	return v
}
