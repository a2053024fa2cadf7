package funding

import (
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// Exclusion records the inputs already committed to in-flight funding
// transactions so that concurrent funding requests never select the same
// live cell twice. It is not safe for concurrent use; the chain actor
// confines all access to its own message turns.
type Exclusion struct {
	byTx  map[types.Hash][]types.OutPoint
	cells map[types.OutPoint]types.Hash
}

// NewExclusion returns an empty exclusion set.
func NewExclusion() *Exclusion {
	return &Exclusion{
		byTx:  map[types.Hash][]types.OutPoint{},
		cells: map[types.OutPoint]types.Hash{},
	}
}

// Insert records every input of the funding transaction as excluded.
// Inserting the same transaction twice is a no-op.
func (e *Exclusion) Insert(tx *Tx) {
	hash := tx.Hash()
	if _, ok := e.byTx[hash]; ok {
		return
	}
	outPoints := []types.OutPoint{}
	for _, input := range tx.Inputs() {
		if input.PreviousOutput == nil {
			continue
		}
		op := *input.PreviousOutput
		if _, ok := e.cells[op]; ok {
			continue
		}
		e.cells[op] = hash
		outPoints = append(outPoints, op)
	}
	e.byTx[hash] = outPoints
}

// Remove releases the inputs recorded for the funding transaction with the
// given hash. Removing an unknown hash is a no-op.
func (e *Exclusion) Remove(txHash types.Hash) {
	for _, op := range e.byTx[txHash] {
		if e.cells[op] == txHash {
			delete(e.cells, op)
		}
	}
	delete(e.byTx, txHash)
}

// Contains reports whether the out point is committed to an in-flight
// funding transaction.
func (e *Exclusion) Contains(op types.OutPoint) bool {
	_, ok := e.cells[op]
	return ok
}

// Has reports whether the funding transaction with the given hash is in the
// set.
func (e *Exclusion) Has(txHash types.Hash) bool {
	_, ok := e.byTx[txHash]
	return ok
}

// Len returns the number of funding transactions in the set.
func (e *Exclusion) Len() int {
	return len(e.byTx)
}
