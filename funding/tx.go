// Package funding builds and signs the transactions that commit funds into
// payment channels. Construction always runs against the chain actor's
// exclusion set so two channels being opened at the same time never fund
// themselves from the same cell.
package funding

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/blake2b"
	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/secp256k1"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"

	"github.com/doitian/cfn-node/ckbrpc"
	"github.com/doitian/cfn-node/contracts"
)

var (
	// ErrInsufficientFunds is returned when the funding source does not
	// have enough live cells to cover the requested amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds in funding source")

	// ErrNothingToSign is returned when a transaction has no input locked
	// by the signing key.
	ErrNothingToSign = errors.New("no input locked by the signing key")
)

const (
	// defaultFeeRate is in shannons per 1000 bytes of transaction weight.
	defaultFeeRate = 1000

	// minChangeCapacity is the occupied capacity of a plain secp256k1
	// lock cell, the smallest change output the chain accepts.
	minChangeCapacity = 61_0000_0000

	// signaturePlaceholderLen is the length of a recoverable secp256k1
	// signature, reserved in the witness before signing so fee
	// estimation sees the final transaction size.
	signaturePlaceholderLen = 65

	liveCellPageSize = 100
)

// Request asks for a funding transaction moving Amount shannons into a cell
// locked by Script. The chain actor treats it as opaque and hands it to
// Fulfill together with a Context.
type Request struct {
	// Script locks the funding cell, committing the amount to the
	// channel.
	Script *types.Script

	// Amount is the channel capacity in shannons.
	Amount uint64

	// FeeRate is in shannons per 1000 bytes. Zero means the default
	// rate.
	FeeRate uint64
}

// Context bundles everything construction and signing need from the chain
// actor's state. It is built per request and discarded after use; the key
// inside it is a short-lived copy that must not be retained.
type Context struct {
	Key               *secp256k1.Secp256k1Key
	RPCURL            string
	Network           types.Network
	FundingSourceLock *types.Script
	FundingCellLock   *types.Script
}

// Tx is a funding transaction, possibly not yet fulfilled or signed.
type Tx struct {
	tx *types.Transaction
}

// NewTx returns a funding transaction wrapping tx. Pass nil to start an
// empty transaction to be fulfilled from scratch.
func NewTx(tx *types.Transaction) *Tx {
	return &Tx{tx: tx}
}

// Transaction returns the underlying transaction, nil if the funding
// transaction has not been fulfilled yet.
func (t *Tx) Transaction() *types.Transaction {
	return t.tx
}

// Inputs returns the underlying transaction's inputs.
func (t *Tx) Inputs() []*types.CellInput {
	if t.tx == nil {
		return nil
	}
	return t.tx.Inputs
}

// Hash returns the underlying transaction's hash, the zero hash if the
// funding transaction has not been fulfilled yet.
func (t *Tx) Hash() types.Hash {
	if t.tx == nil {
		return types.Hash{}
	}
	return t.tx.ComputeHash()
}

// liveCellFetcher is the slice of the node RPC surface Fulfill needs.
type liveCellFetcher interface {
	GetCells(ctx context.Context, key *ckbrpc.SearchKey, order ckbrpc.Order, limit uint64, afterCursor string) (*ckbrpc.LiveCells, error)
}

// txFetcher is the slice of the node RPC surface Sign needs.
type txFetcher interface {
	GetTransaction(ctx context.Context, hash types.Hash) (*ckbrpc.TransactionWithStatus, error)
}

// Fulfill completes the funding transaction: it selects live cells locked
// by the funding source script, skipping cells in the exclusion set, adds
// the funding output and a change output, and registers the chosen inputs
// in the exclusion set. The exclusion set is read and written without
// interleaving because the chain actor calls Fulfill inside one message
// turn.
func (t *Tx) Fulfill(ctx context.Context, req Request, fctx Context, exclusion *Exclusion) error {
	return t.fulfill(ctx, req, fctx, exclusion, ckbrpc.New(fctx.RPCURL))
}

func (t *Tx) fulfill(ctx context.Context, req Request, fctx Context, exclusion *Exclusion, chain liveCellFetcher) error {
	feeRate := req.FeeRate
	if feeRate == 0 {
		feeRate = defaultFeeRate
	}

	tx := t.tx
	if tx == nil {
		tx = &types.Transaction{}
	}
	baseInputs := len(tx.Inputs)
	baseOutputs := len(tx.Outputs)

	taken := map[types.OutPoint]bool{}
	for _, input := range tx.Inputs {
		if input.PreviousOutput != nil {
			taken[*input.PreviousOutput] = true
		}
	}

	// Select plain capacity cells until the amount, the fee, and a change
	// output are covered. The fee grows with each selected input, so the
	// target is recomputed as the selection grows.
	inputs := []*types.CellInput{}
	total := uint64(0)
	fee := uint64(0)
	exhausted := false
	searchKey := ckbrpc.NewLockSearchKey(fctx.FundingSourceLock)
	cursor := ""
	for !exhausted {
		fee = estimateFee(baseInputs+len(inputs)+1, baseOutputs+2, feeRate)
		if total >= req.Amount+fee+minChangeCapacity {
			break
		}
		page, err := chain.GetCells(ctx, searchKey, ckbrpc.OrderAsc, liveCellPageSize, cursor)
		if err != nil {
			return fmt.Errorf("getting live cells: %w", err)
		}
		for _, cell := range page.Objects {
			if cell.OutPoint == nil || cell.Output == nil {
				continue
			}
			// Cells with a type script or data carry more than
			// capacity and are not spendable as plain funds.
			if cell.Output.Type != nil || len(cell.OutputData) > 0 {
				continue
			}
			op := *cell.OutPoint
			if taken[op] || exclusion.Contains(op) {
				continue
			}
			taken[op] = true
			inputs = append(inputs, &types.CellInput{PreviousOutput: cell.OutPoint})
			total += cell.Output.Capacity
			fee = estimateFee(baseInputs+len(inputs), baseOutputs+2, feeRate)
			if total >= req.Amount+fee+minChangeCapacity {
				break
			}
		}
		if page.LastCursor == "" || len(page.Objects) == 0 {
			exhausted = true
		}
		cursor = page.LastCursor
	}
	if len(inputs) > 0 {
		fee = estimateFee(baseInputs+len(inputs), baseOutputs+2, feeRate)
	}
	if total < req.Amount+fee {
		return fmt.Errorf("%w: have %d, need %d plus %d fee", ErrInsufficientFunds, total, req.Amount, fee)
	}

	outputs := []*types.CellOutput{{
		Capacity: req.Amount,
		Lock:     fctx.FundingCellLock,
	}}
	outputsData := [][]byte{{}}
	change := total - req.Amount - fee
	if change >= minChangeCapacity {
		outputs = append(outputs, &types.CellOutput{
			Capacity: change,
			Lock:     fctx.FundingSourceLock,
		})
		outputsData = append(outputsData, []byte{})
	}
	// Leftover below the change floor is folded into the fee.

	tx.Inputs = append(tx.Inputs, inputs...)
	tx.Outputs = append(tx.Outputs, outputs...)
	tx.OutputsData = append(tx.OutputsData, outputsData...)
	appendCellDep(tx, contracts.GetCellDep(fctx.Network, contracts.Secp256k1Lock))

	// One witness slot per input, with a signature placeholder on the
	// first input this fulfillment added.
	for len(tx.Witnesses) < len(tx.Inputs) {
		tx.Witnesses = append(tx.Witnesses, []byte{})
	}
	if len(inputs) > 0 {
		placeholder := types.WitnessArgs{Lock: make([]byte, signaturePlaceholderLen)}
		tx.Witnesses[baseInputs] = placeholder.Serialize()
	}

	t.tx = tx
	exclusion.Insert(t)
	return nil
}

// Sign signs the witnesses covering the inputs locked by the key, using the
// standard sighash-all recipe. The node at rpcURL resolves each input's
// previous output to find which inputs the key owns.
func (t *Tx) Sign(ctx context.Context, key *secp256k1.Secp256k1Key, rpcURL string) error {
	return t.sign(ctx, key, ckbrpc.New(rpcURL))
}

func (t *Tx) sign(ctx context.Context, key *secp256k1.Secp256k1Key, chain txFetcher) error {
	if t.tx == nil || len(t.tx.Inputs) == 0 {
		return ErrNothingToSign
	}
	ownLock := contracts.GetScriptByContract(contracts.Secp256k1Lock, blake2b.Blake160(key.PubKey()))

	group := []int{}
	for i, input := range t.tx.Inputs {
		if input.PreviousOutput == nil {
			return fmt.Errorf("input %d has no previous output", i)
		}
		prev, err := chain.GetTransaction(ctx, input.PreviousOutput.TxHash)
		if err != nil {
			return fmt.Errorf("resolving input %d: %w", i, err)
		}
		if prev.Transaction == nil || int(input.PreviousOutput.Index) >= len(prev.Transaction.Outputs) {
			return fmt.Errorf("input %d spends unknown output %s:%d", i, input.PreviousOutput.TxHash, input.PreviousOutput.Index)
		}
		if scriptEqual(prev.Transaction.Outputs[input.PreviousOutput.Index].Lock, ownLock) {
			group = append(group, i)
		}
	}
	if len(group) == 0 {
		return ErrNothingToSign
	}

	for len(t.tx.Witnesses) < len(t.tx.Inputs) {
		t.tx.Witnesses = append(t.tx.Witnesses, []byte{})
	}

	// The message commits to the tx hash, the group's first witness with a
	// zero-filled signature, the group's remaining witnesses, and any
	// witnesses beyond the inputs. Funding inputs never carry type-script
	// witness data, so the first witness is rebuilt from scratch.
	first := group[0]
	emptyWitness := types.WitnessArgs{Lock: make([]byte, signaturePlaceholderLen)}
	serialized := emptyWitness.Serialize()
	buf := bytes.Buffer{}
	buf.Write(t.tx.ComputeHash().Bytes())
	writeLengthPrefixed(&buf, serialized)
	for _, i := range group[1:] {
		writeLengthPrefixed(&buf, t.tx.Witnesses[i])
	}
	for i := len(t.tx.Inputs); i < len(t.tx.Witnesses); i++ {
		writeLengthPrefixed(&buf, t.tx.Witnesses[i])
	}

	signature, err := key.Sign(blake2b.Blake256(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("signing funding tx: %w", err)
	}
	signed := types.WitnessArgs{Lock: signature}
	t.tx.Witnesses[first] = signed.Serialize()
	return nil
}

func scriptEqual(a, b *types.Script) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CodeHash == b.CodeHash && a.HashType == b.HashType && bytes.Equal(a.Args, b.Args)
}

func appendCellDep(tx *types.Transaction, dep *types.CellDep) {
	if dep == nil {
		return
	}
	for _, d := range tx.CellDeps {
		if d.DepType == dep.DepType && d.OutPoint != nil && dep.OutPoint != nil && *d.OutPoint == *dep.OutPoint {
			return
		}
	}
	tx.CellDeps = append(tx.CellDeps, dep)
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	length := [8]byte{}
	binary.LittleEndian.PutUint64(length[:], uint64(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

// estimateFee sizes the transaction from its input and output counts. The
// constants overestimate slightly; leftover capacity below the change floor
// is spent as fee anyway.
func estimateFee(inputs, outputs int, feeRate uint64) uint64 {
	const (
		txOverhead   = 72
		inputSize    = 44
		outputSize   = 97
		firstWitness = 85 + 8
		otherWitness = 8
	)
	size := uint64(txOverhead + inputs*inputSize + outputs*outputSize + firstWitness + (inputs-1)*otherWitness)
	return (size*feeRate + 999) / 1000
}
