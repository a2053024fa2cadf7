// Package contracts holds the on-chain scripts the node depends on and
// builds lock scripts from their well-known code hashes.
package contracts

import (
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// Contract identifies a deployed system script.
type Contract int

const (
	// Secp256k1Lock is the secp256k1-blake160 sighash-all signature lock.
	Secp256k1Lock Contract = iota
)

type scriptInfo struct {
	codeHash types.Hash
	hashType types.ScriptHashType
	cellDeps map[types.Network]types.CellDep
}

var scripts = map[Contract]scriptInfo{
	Secp256k1Lock: {
		// The secp256k1-blake160 lock shares one type-id hash on all
		// networks; only the dep group out point differs.
		codeHash: types.HexToHash("0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8"),
		hashType: types.HashTypeType,
		cellDeps: map[types.Network]types.CellDep{
			types.NetworkMain: {
				OutPoint: &types.OutPoint{
					TxHash: types.HexToHash("0x71a7ba8fc96349fea0ed3a5c47992e3b4084b031a42264a018e0072e8172e46c"),
					Index:  0,
				},
				DepType: types.DepTypeDepGroup,
			},
			types.NetworkTest: {
				OutPoint: &types.OutPoint{
					TxHash: types.HexToHash("0xf8de3bb47d055cdf460d93a2a6e1b05f7432f9777c8c474abf4eec1d4aee5d37"),
					Index:  0,
				},
				DepType: types.DepTypeDepGroup,
			},
		},
	},
}

// GetScriptByContract returns a lock script for the contract with the given
// args.
func GetScriptByContract(contract Contract, args []byte) *types.Script {
	info := scripts[contract]
	return &types.Script{
		CodeHash: info.codeHash,
		HashType: info.hashType,
		Args:     args,
	}
}

// GetCellDep returns the cell dep a transaction must reference to use the
// contract on the given network.
func GetCellDep(network types.Network, contract Contract) *types.CellDep {
	dep, ok := scripts[contract].cellDeps[network]
	if !ok {
		return nil
	}
	return &dep
}
