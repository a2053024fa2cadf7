package chain

import (
	"context"

	"github.com/nervosnetwork/ckb-sdk-go/v2/types"

	"github.com/doitian/cfn-node/ckbrpc"
	"github.com/doitian/cfn-node/funding"
)

// Message is a request the actor processes from its mailbox. Messages that
// expect an answer carry a reply channel; replies are single-use and are
// silently dropped when the caller has abandoned the request by cancelling
// its context.
type Message interface {
	isMessage()
}

// Fund builds or completes a funding transaction for the request,
// consulting and extending the funding exclusion set in the same message
// turn.
type Fund struct {
	Ctx     context.Context
	Tx      *funding.Tx
	Request funding.Request
	Reply   chan FundReply
}

// FundReply answers a Fund message.
type FundReply struct {
	Tx  *funding.Tx
	Err error
}

// Sign signs the funding transaction with the actor's key.
type Sign struct {
	Ctx   context.Context
	Tx    *funding.Tx
	Reply chan SignReply
}

// SignReply answers a Sign message.
type SignReply struct {
	Tx  *funding.Tx
	Err error
}

// AddTxs records funding transactions in the exclusion set. It has no
// reply and cannot fail.
type AddTxs struct {
	Txs []*funding.Tx
}

// RemoveTx releases a funding transaction's inputs from the exclusion set.
// It has no reply and cannot fail.
type RemoveTx struct {
	TxHash types.Hash
}

// SendTx submits a transaction to the chain.
type SendTx struct {
	Ctx   context.Context
	Tx    *types.Transaction
	Reply chan SendTxReply
}

// SendTxReply answers a SendTx message.
type SendTxReply struct {
	Err error
}

// TraceTx polls the chain until the transaction reaches the requested
// confirmation depth or is rejected. Cancel the context to stop tracing;
// the tracer halts within one poll interval and sends nothing.
type TraceTx struct {
	Ctx     context.Context
	Request TraceTxRequest
	Reply   chan TraceTxResponse
}

// TraceTxRequest identifies the transaction to trace and how many
// confirmations are required before it is considered final.
type TraceTxRequest struct {
	TxHash        types.Hash
	Confirmations uint64
}

// TraceTxResponse reports a finished trace. Tx is set when the node
// returned a decodable transaction body, and is nil for rejected
// transactions.
type TraceTxResponse struct {
	Tx     *types.Transaction
	Status ckbrpc.TxStatus
}

// GetCurrentBlockNumber asks for the chain's tip block number.
type GetCurrentBlockNumber struct {
	Ctx   context.Context
	Reply chan BlockNumberReply
}

// BlockNumberReply answers a GetCurrentBlockNumber message, forwarding the
// node's answer or its error verbatim.
type BlockNumberReply struct {
	BlockNumber uint64
	Err         error
}

func (Fund) isMessage()                  {}
func (Sign) isMessage()                  {}
func (AddTxs) isMessage()                {}
func (RemoveTx) isMessage()              {}
func (SendTx) isMessage()                {}
func (TraceTx) isMessage()               {}
func (GetCurrentBlockNumber) isMessage() {}

// reply sends the value unless the caller has abandoned the request. A nil
// reply channel drops the value; a cancelled caller context drops it too.
// Reply channels should be buffered with capacity one so a live caller
// never blocks the actor.
func reply[T any](ctx context.Context, ch chan T, v T) {
	if ch == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case ch <- v:
	case <-ctx.Done():
	}
}
