package ckbrpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// Uint64 is a 64-bit quantity in the CKB JSON-RPC hex encoding ("0x1a2b").
type Uint64 uint64

// MarshalJSON implements json.Marshaler.
func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + strconv.FormatUint(uint64(u), 16))
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Uint64) UnmarshalJSON(data []byte) error {
	s := ""
	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("quantity %q is not 0x-prefixed", s)
	}
	n, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return fmt.Errorf("parsing quantity %q: %w", s, err)
	}
	*u = Uint64(n)
	return nil
}

// Status is the status of a transaction as reported by the node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProposed  Status = "proposed"
	StatusCommitted Status = "committed"
	StatusUnknown   Status = "unknown"
	StatusRejected  Status = "rejected"
)

// TxStatus is the status portion of a get_transaction response. BlockNumber
// is set when the transaction is committed. Reason is set when the
// transaction is rejected.
type TxStatus struct {
	Status      Status  `json:"status"`
	BlockNumber *Uint64 `json:"block_number,omitempty"`
	Reason      *string `json:"reason,omitempty"`
}

// TransactionWithStatus is a get_transaction response. Transaction is nil
// when the node no longer has the transaction body or when the body cannot
// be decoded; the status is reported either way.
type TransactionWithStatus struct {
	Transaction *types.Transaction
	TxStatus    TxStatus
}

// UnmarshalJSON implements json.Unmarshaler. An undecodable transaction
// body degrades to a nil Transaction instead of failing the whole lookup,
// so callers still observe the chain status.
func (t *TransactionWithStatus) UnmarshalJSON(data []byte) error {
	raw := struct {
		Transaction json.RawMessage `json:"transaction"`
		TxStatus    TxStatus        `json:"tx_status"`
	}{}
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}
	t.TxStatus = raw.TxStatus
	t.Transaction = nil
	if len(raw.Transaction) > 0 && string(raw.Transaction) != "null" {
		tx := types.Transaction{}
		if json.Unmarshal(raw.Transaction, &tx) == nil {
			t.Transaction = &tx
		}
	}
	return nil
}

// Order is the ordering of an indexer query.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// SearchKey selects cells for an indexer query.
type SearchKey struct {
	Script     *types.Script `json:"script"`
	ScriptType string        `json:"script_type"`
}

// NewLockSearchKey returns a search key matching cells locked by the given
// script.
func NewLockSearchKey(lock *types.Script) *SearchKey {
	return &SearchKey{Script: lock, ScriptType: "lock"}
}

// LiveCell is a single live cell returned by get_cells.
type LiveCell struct {
	OutPoint   *types.OutPoint   `json:"out_point"`
	Output     *types.CellOutput `json:"output"`
	OutputData []byte            `json:"output_data,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *LiveCell) UnmarshalJSON(data []byte) error {
	raw := struct {
		OutPoint   *types.OutPoint   `json:"out_point"`
		Output     *types.CellOutput `json:"output"`
		OutputData *string           `json:"output_data"`
	}{}
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}
	c.OutPoint = raw.OutPoint
	c.Output = raw.Output
	c.OutputData = nil
	if raw.OutputData != nil && strings.HasPrefix(*raw.OutputData, "0x") {
		c.OutputData, err = hexToBytes(*raw.OutputData)
		if err != nil {
			return fmt.Errorf("parsing output data: %w", err)
		}
	}
	return nil
}

// LiveCells is a page of live cells.
type LiveCells struct {
	LastCursor string      `json:"last_cursor"`
	Objects    []*LiveCell `json:"objects"`
}

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
