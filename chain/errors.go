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

package chain

import (
	"fmt"
	"time"
)

// ABIError reports a contract interface mismatch: a method the season
// contract does not implement, or return data that does not unpack. Not
// temporary; retrying the same call cannot succeed.
type ABIError struct {
	Method string
	Err    error
}

func (e *ABIError) Error() string {
	return fmt.Sprintf("contract call %s: %v", e.Method, e.Err)
}

func (e *ABIError) Unwrap() error { return e.Err }

// Temporary reports false: an ABI mismatch is a deployment bug.
func (e *ABIError) Temporary() bool { return false }

// GasEstimationError reports a failed reveal simulation. Reason carries the
// operator-facing classification ("insufficient funds", "execution reverted")
// when the node's error text allowed one.
type GasEstimationError struct {
	Reason string
	Err    error
}

func (e *GasEstimationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gas estimation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("gas estimation failed: %v", e.Err)
}

func (e *GasEstimationError) Unwrap() error { return e.Err }

// Temporary reports true: estimation failures clear up when funds arrive or
// chain state moves; the batch stays claimable.
func (e *GasEstimationError) Temporary() bool { return true }

// SubmitError reports that broadcasting a signed transaction failed.
type SubmitError struct {
	TxHash string
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit tx %s: %v", e.TxHash, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

func (e *SubmitError) Temporary() bool { return true }

// ConfirmTimeoutError reports that no receipt appeared within the configured
// wait. The transaction may still confirm later; reconciliation resolves it.
type ConfirmTimeoutError struct {
	TxHash  string
	Timeout time.Duration
}

func (e *ConfirmTimeoutError) Error() string {
	return fmt.Sprintf("tx %s not confirmed within %s", e.TxHash, e.Timeout)
}

func (e *ConfirmTimeoutError) Temporary() bool { return true }

// FeeCapError reports that the computed maxFeePerGas exceeds the configured
// cap. The batch stays claimable; gas prices fall.
type FeeCapError struct {
	MaxFeeGwei string
	CapGwei    int64
}

func (e *FeeCapError) Error() string {
	return fmt.Sprintf("max fee %s gwei exceeds cap %d gwei", e.MaxFeeGwei, e.CapGwei)
}

func (e *FeeCapError) Temporary() bool { return true }
