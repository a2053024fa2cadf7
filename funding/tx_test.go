package funding

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/blake2b"
	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/secp256k1"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doitian/cfn-node/ckbrpc"
	"github.com/doitian/cfn-node/contracts"
)

type liveCellFetcherFunc func(ctx context.Context, key *ckbrpc.SearchKey, order ckbrpc.Order, limit uint64, afterCursor string) (*ckbrpc.LiveCells, error)

func (f liveCellFetcherFunc) GetCells(ctx context.Context, key *ckbrpc.SearchKey, order ckbrpc.Order, limit uint64, afterCursor string) (*ckbrpc.LiveCells, error) {
	return f(ctx, key, order, limit, afterCursor)
}

type txFetcherFunc func(ctx context.Context, hash types.Hash) (*ckbrpc.TransactionWithStatus, error)

func (f txFetcherFunc) GetTransaction(ctx context.Context, hash types.Hash) (*ckbrpc.TransactionWithStatus, error) {
	return f(ctx, hash)
}

const ckb = uint64(1_0000_0000)

func testContext(t *testing.T) (Context, *secp256k1.Secp256k1Key) {
	key, err := secp256k1.RandomNew()
	require.NoError(t, err)
	sourceLock := contracts.GetScriptByContract(contracts.Secp256k1Lock, blake2b.Blake160(key.PubKey()))
	cellLock := &types.Script{
		CodeHash: types.Hash{0xfd},
		HashType: types.HashTypeType,
		Args:     []byte{0xaa, 0xbb},
	}
	return Context{
		Key:               key,
		Network:           types.NetworkTest,
		FundingSourceLock: sourceLock,
		FundingCellLock:   cellLock,
	}, key
}

func liveCells(lock *types.Script, capacities ...uint64) []*ckbrpc.LiveCell {
	cells := []*ckbrpc.LiveCell{}
	for i, capacity := range capacities {
		cells = append(cells, &ckbrpc.LiveCell{
			OutPoint: outPoint(0xc0, uint32(i)),
			Output:   &types.CellOutput{Capacity: capacity, Lock: lock},
		})
	}
	return cells
}

func singlePage(cells []*ckbrpc.LiveCell) liveCellFetcherFunc {
	return func(ctx context.Context, key *ckbrpc.SearchKey, order ckbrpc.Order, limit uint64, afterCursor string) (*ckbrpc.LiveCells, error) {
		if afterCursor != "" {
			return &ckbrpc.LiveCells{}, nil
		}
		return &ckbrpc.LiveCells{LastCursor: "", Objects: cells}, nil
	}
}

func TestFulfill(t *testing.T) {
	fctx, _ := testContext(t)
	cells := liveCells(fctx.FundingSourceLock, 500*ckb, 500*ckb, 500*ckb)
	exclusion := NewExclusion()

	tx := NewTx(nil)
	err := tx.fulfill(context.Background(), Request{Script: fctx.FundingCellLock, Amount: 700 * ckb}, fctx, exclusion, singlePage(cells))
	require.NoError(t, err)

	built := tx.Transaction()
	require.NotNil(t, built)
	require.Len(t, built.Inputs, 2)
	require.Len(t, built.Outputs, 2)

	assert.Equal(t, 700*ckb, built.Outputs[0].Capacity)
	assert.Equal(t, fctx.FundingCellLock, built.Outputs[0].Lock)
	assert.Equal(t, fctx.FundingSourceLock, built.Outputs[1].Lock)

	fee := 1000*ckb - built.Outputs[0].Capacity - built.Outputs[1].Capacity
	assert.Greater(t, fee, uint64(0))
	assert.Less(t, fee, 1*ckb)

	// The secp256k1 lock's dep group and a witness slot per input, with a
	// signature placeholder in the first.
	require.Len(t, built.CellDeps, 1)
	assert.Equal(t, contracts.GetCellDep(types.NetworkTest, contracts.Secp256k1Lock), built.CellDeps[0])
	require.Len(t, built.Witnesses, 2)
	assert.NotEmpty(t, built.Witnesses[0])
	assert.Empty(t, built.Witnesses[1])

	// The chosen inputs are registered in the exclusion set.
	assert.True(t, exclusion.Has(tx.Hash()))
	for _, input := range built.Inputs {
		assert.True(t, exclusion.Contains(*input.PreviousOutput))
	}
}

func TestFulfillSkipsExcludedCells(t *testing.T) {
	fctx, _ := testContext(t)
	cells := liveCells(fctx.FundingSourceLock, 500*ckb, 500*ckb, 500*ckb)
	exclusion := NewExclusion()
	exclusion.Insert(txSpending(cells[0].OutPoint))

	tx := NewTx(nil)
	err := tx.fulfill(context.Background(), Request{Script: fctx.FundingCellLock, Amount: 700 * ckb}, fctx, exclusion, singlePage(cells))
	require.NoError(t, err)

	for _, input := range tx.Transaction().Inputs {
		assert.NotEqual(t, *cells[0].OutPoint, *input.PreviousOutput)
	}
}

func TestFulfillSkipsNonPlainCells(t *testing.T) {
	fctx, _ := testContext(t)
	cells := liveCells(fctx.FundingSourceLock, 500*ckb, 500*ckb, 500*ckb)
	cells[0].Output.Type = &types.Script{CodeHash: types.Hash{0x99}, HashType: types.HashTypeType}
	cells[1].OutputData = []byte{0x01}

	tx := NewTx(nil)
	err := tx.fulfill(context.Background(), Request{Script: fctx.FundingCellLock, Amount: 700 * ckb}, fctx, NewExclusion(), singlePage(cells))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestFulfillInsufficientFunds(t *testing.T) {
	fctx, _ := testContext(t)
	cells := liveCells(fctx.FundingSourceLock, 100*ckb)

	tx := NewTx(nil)
	err := tx.fulfill(context.Background(), Request{Script: fctx.FundingCellLock, Amount: 700 * ckb}, fctx, NewExclusion(), singlePage(cells))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestFulfillPaginates(t *testing.T) {
	fctx, _ := testContext(t)
	pages := map[string][]*ckbrpc.LiveCell{
		"":    liveCells(fctx.FundingSourceLock, 500*ckb)[:1],
		"0x1": liveCells(fctx.FundingSourceLock, 500*ckb, 500*ckb)[1:],
	}
	cursors := map[string]string{"": "0x1", "0x1": ""}
	fetcher := liveCellFetcherFunc(func(ctx context.Context, key *ckbrpc.SearchKey, order ckbrpc.Order, limit uint64, afterCursor string) (*ckbrpc.LiveCells, error) {
		return &ckbrpc.LiveCells{LastCursor: cursors[afterCursor], Objects: pages[afterCursor]}, nil
	})

	tx := NewTx(nil)
	err := tx.fulfill(context.Background(), Request{Script: fctx.FundingCellLock, Amount: 700 * ckb}, fctx, NewExclusion(), fetcher)
	require.NoError(t, err)
	assert.Len(t, tx.Transaction().Inputs, 2)
}

func TestSign(t *testing.T) {
	fctx, key := testContext(t)
	cells := liveCells(fctx.FundingSourceLock, 500*ckb, 500*ckb)

	tx := NewTx(nil)
	err := tx.fulfill(context.Background(), Request{Script: fctx.FundingCellLock, Amount: 700 * ckb}, fctx, NewExclusion(), singlePage(cells))
	require.NoError(t, err)

	// The previous transaction resolves every input to an output locked
	// by the signing key.
	prev := &types.Transaction{
		Outputs: []*types.CellOutput{
			{Capacity: 500 * ckb, Lock: fctx.FundingSourceLock},
			{Capacity: 500 * ckb, Lock: fctx.FundingSourceLock},
		},
		OutputsData: [][]byte{{}, {}},
	}
	fetcher := txFetcherFunc(func(ctx context.Context, hash types.Hash) (*ckbrpc.TransactionWithStatus, error) {
		return &ckbrpc.TransactionWithStatus{
			Transaction: prev,
			TxStatus:    ckbrpc.TxStatus{Status: ckbrpc.StatusCommitted},
		}, nil
	})

	placeholder := tx.Transaction().Witnesses[0]
	err = tx.sign(context.Background(), key, fetcher)
	require.NoError(t, err)

	signed := tx.Transaction().Witnesses[0]
	// A recoverable signature replaces the zero-filled placeholder of the
	// same length.
	assert.Equal(t, len(placeholder), len(signed))
	assert.False(t, bytes.Equal(placeholder, signed))
}

func TestSignNothingToSign(t *testing.T) {
	_, key := testContext(t)

	err := NewTx(nil).sign(context.Background(), key, nil)
	require.ErrorIs(t, err, ErrNothingToSign)

	// Inputs locked by someone else are not ours to sign.
	otherLock := &types.Script{CodeHash: types.Hash{0x11}, HashType: types.HashTypeType}
	prev := &types.Transaction{Outputs: []*types.CellOutput{{Capacity: 500 * ckb, Lock: otherLock}}}
	fetcher := txFetcherFunc(func(ctx context.Context, hash types.Hash) (*ckbrpc.TransactionWithStatus, error) {
		return &ckbrpc.TransactionWithStatus{Transaction: prev}, nil
	})
	tx := txSpending(outPoint(0xc0, 0))
	err = tx.sign(context.Background(), key, fetcher)
	require.ErrorIs(t, err, ErrNothingToSign)
}

func TestSignLookupError(t *testing.T) {
	_, key := testContext(t)
	lookupErr := errors.New("node down")
	fetcher := txFetcherFunc(func(ctx context.Context, hash types.Hash) (*ckbrpc.TransactionWithStatus, error) {
		return nil, lookupErr
	})
	tx := txSpending(outPoint(0xc0, 0))
	err := tx.sign(context.Background(), key, fetcher)
	require.ErrorIs(t, err, lookupErr)
}
