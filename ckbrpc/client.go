// Package ckbrpc is a JSON-RPC client for the CKB node the payment channel
// node anchors to. It exposes the small slice of the node's RPC surface that
// the on-chain layer needs: the chain tip, transaction submission,
// transaction status lookup, and the indexer's live cell query.
package ckbrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// Client talks JSON-RPC 2.0 to a CKB node over HTTP. All calls block until
// the node responds or the context is done.
type Client struct {
	url    string
	http   *http.Client
	nextID uint64
}

// New returns a client for the node at the given URL.
func New(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer httpResp.Body.Close()
	resp := response{}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	if err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil {
		err = json.Unmarshal(resp.Result, result)
		if err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// GetTipBlockNumber returns the block number of the current chain tip.
func (c *Client) GetTipBlockNumber(ctx context.Context) (uint64, error) {
	n := Uint64(0)
	err := c.call(ctx, "get_tip_block_number", nil, &n)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// SendTransaction submits the transaction to the node's transaction pool.
// The outputs validator is set to passthrough so non-standard lock scripts
// used by channel funding cells are accepted.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Hash, error) {
	hash := types.Hash{}
	err := c.call(ctx, "send_transaction", []any{tx, "passthrough"}, &hash)
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

// GetTransaction returns the transaction with the given hash together with
// its status on the chain.
func (c *Client) GetTransaction(ctx context.Context, hash types.Hash) (*TransactionWithStatus, error) {
	txStatus := TransactionWithStatus{}
	err := c.call(ctx, "get_transaction", []any{hash}, &txStatus)
	if err != nil {
		return nil, err
	}
	return &txStatus, nil
}

// GetCells returns a page of live cells matching the search key, using the
// node's built-in indexer. Pass the returned LastCursor as afterCursor to
// fetch the next page.
func (c *Client) GetCells(ctx context.Context, key *SearchKey, order Order, limit uint64, afterCursor string) (*LiveCells, error) {
	params := []any{key, order, Uint64(limit)}
	if afterCursor != "" {
		params = append(params, afterCursor)
	} else {
		params = append(params, nil)
	}
	cells := LiveCells{}
	err := c.call(ctx, "get_cells", params, &cells)
	if err != nil {
		return nil, err
	}
	return &cells, nil
}
