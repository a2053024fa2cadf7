// Package chain contains the chain actor, the single component through
// which the node touches the CKB chain. The actor owns the node's signing
// key and the funding exclusion set, and processes its mailbox strictly one
// message at a time, so neither is ever mutated concurrently.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/blake2b"
	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/secp256k1"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/raulk/clock"
	log "github.com/sirupsen/logrus"

	"github.com/doitian/cfn-node/ckbrpc"
	"github.com/doitian/cfn-node/contracts"
	"github.com/doitian/cfn-node/funding"
)

// RPC is the blocking chain-client surface the actor depends on.
type RPC interface {
	GetTipBlockNumber(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Hash, error)
	GetTransaction(ctx context.Context, hash types.Hash) (*ckbrpc.TransactionWithStatus, error)
}

// A compile time assertion to ensure the RPC client meets the RPC
// interface.
var _ RPC = (*ckbrpc.Client)(nil)

const (
	defaultMailboxSize  = 64
	defaultPollInterval = 5 * time.Second
)

// Config configures an Actor.
type Config struct {
	// Name labels the actor in logs.
	Name string

	// RPCURL is the CKB node's JSON-RPC endpoint.
	RPCURL string

	// Network selects which deployment of the system scripts funding
	// transactions reference.
	Network types.Network

	// Key is the node's signing key. The actor takes ownership; no other
	// component may retain it.
	Key *secp256k1.Secp256k1Key

	// RPC overrides the client built from RPCURL. Intended for tests.
	RPC RPC

	// Clock overrides the real clock driving the tracer's poll interval.
	// Intended for tests.
	Clock clock.Clock

	// PollInterval overrides the tracer's backoff between polls.
	PollInterval time.Duration

	// MailboxSize overrides the mailbox buffer size.
	MailboxSize int
}

// Actor mediates between the node's channel logic and the chain. Callers
// deliver messages with Send; the actor's goroutine started by Run
// processes them one at a time.
type Actor struct {
	name         string
	rpcURL       string
	network      types.Network
	rpc          RPC
	clock        clock.Clock
	pollInterval time.Duration

	key               *secp256k1.Secp256k1Key
	fundingSourceLock *types.Script
	exclusion         *funding.Exclusion

	mailbox chan Message
}

// NewActor derives the funding source lock script from the key and returns
// an actor ready to Run.
func NewActor(config Config) (*Actor, error) {
	if config.Key == nil {
		return nil, errors.New("chain: config has no signing key")
	}
	a := &Actor{
		name:         config.Name,
		rpcURL:       config.RPCURL,
		network:      config.Network,
		rpc:          config.RPC,
		clock:        config.Clock,
		pollInterval: config.PollInterval,
		key:          config.Key,
		exclusion:    funding.NewExclusion(),
	}
	if a.rpc == nil {
		a.rpc = ckbrpc.New(config.RPCURL)
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.pollInterval == 0 {
		a.pollInterval = defaultPollInterval
	}
	mailboxSize := config.MailboxSize
	if mailboxSize == 0 {
		mailboxSize = defaultMailboxSize
	}
	a.mailbox = make(chan Message, mailboxSize)

	pubKeyHash := blake2b.Blake160(a.key.PubKey())
	a.fundingSourceLock = contracts.GetScriptByContract(contracts.Secp256k1Lock, pubKeyHash)
	log.WithField("actor", a.name).Infof("funding lock args: %x", a.fundingSourceLock.Args)

	return a, nil
}

// FundingSourceLock returns the lock script guarding the cells the actor
// funds channels from.
func (a *Actor) FundingSourceLock() *types.Script {
	return a.fundingSourceLock
}

// Send delivers a message to the actor's mailbox. It blocks only when the
// mailbox is full, and gives up when ctx is done.
func (a *Actor) Send(ctx context.Context, m Message) error {
	select {
	case a.mailbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes mailbox messages until ctx is cancelled. It must be called
// exactly once; all state mutation happens on this goroutine.
func (a *Actor) Run(ctx context.Context) error {
	for {
		select {
		case m := <-a.mailbox:
			a.handle(ctx, m)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Actor) handle(ctx context.Context, m Message) {
	switch m := m.(type) {
	case Fund:
		fctx := a.buildFundingContext(m.Request)
		err := m.Tx.Fulfill(callerCtx(m.Ctx), m.Request, fctx, a.exclusion)
		reply(m.Ctx, m.Reply, FundReply{Tx: m.Tx, Err: err})
	case Sign:
		err := m.Tx.Sign(callerCtx(m.Ctx), a.key, a.rpcURL)
		reply(m.Ctx, m.Reply, SignReply{Tx: m.Tx, Err: err})
	case AddTxs:
		for _, tx := range m.Txs {
			a.exclusion.Insert(tx)
		}
	case RemoveTx:
		a.exclusion.Remove(m.TxHash)
	case SendTx:
		err := a.sendTx(callerCtx(m.Ctx), m.Tx)
		reply(m.Ctx, m.Reply, SendTxReply{Err: err})
	case TraceTx:
		// The tracer spans many poll intervals. It runs on its own
		// goroutine so an open-ended poll cannot block the mailbox; it
		// captures no actor state beyond the RPC client and clock.
		go a.traceTx(callerCtx(m.Ctx), m.Request, m.Reply)
	case GetCurrentBlockNumber:
		blockNumber, err := a.rpc.GetTipBlockNumber(callerCtx(m.Ctx))
		reply(m.Ctx, m.Reply, BlockNumberReply{BlockNumber: blockNumber, Err: err})
	default:
		log.WithField("actor", a.name).Errorf("unrecognized message type %T", m)
	}
}

// sendTx submits the transaction. A node error reporting the transaction,
// or one conflicting with it, as already in the pool counts as success:
// the channel layer retries broadcasts, and a transaction the network
// already knows must not surface a spurious error. Only the two known pool
// codes are reclassified; everything else is surfaced verbatim.
func (a *Actor) sendTx(ctx context.Context, tx *types.Transaction) error {
	_, err := a.rpc.SendTransaction(ctx, tx)
	if err == nil {
		return nil
	}
	rpcErr := (*ckbrpc.Error)(nil)
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case ckbrpc.CodeDuplicatedTransaction, ckbrpc.CodeConflictingTransaction:
			log.WithField("actor", a.name).Warnf("transaction %s already in pool", tx.ComputeHash())
			return nil
		}
	}
	log.WithField("actor", a.name).Errorf("send transaction %s failed: %v", tx.ComputeHash(), err)
	return err
}

func (a *Actor) buildFundingContext(req funding.Request) funding.Context {
	return funding.Context{
		Key:               a.key,
		RPCURL:            a.rpcURL,
		Network:           a.network,
		FundingSourceLock: a.fundingSourceLock,
		FundingCellLock:   req.Script,
	}
}

func callerCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
