package ckbrpc

import (
	"encoding/json"
	"fmt"
)

// Error codes from the CKB tx-pool RPC error taxonomy that matter to the
// submission path. Both mean the transaction, or one conflicting with it on
// the same inputs, is already known to the network.
const (
	// CodeDuplicatedTransaction is returned when the exact transaction
	// is already in the pool.
	CodeDuplicatedTransaction = -1107

	// CodeConflictingTransaction is returned when a transaction spending
	// the same inputs is already in the pool.
	CodeConflictingTransaction = -1111
)

// Error is a structured error returned by the node in a JSON-RPC error
// response. Transport failures are returned as plain errors, not as *Error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ckb rpc error %d: %s", e.Code, e.Message)
}
