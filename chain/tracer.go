package chain

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/doitian/cfn-node/ckbrpc"
)

// traceTx polls the chain until the traced transaction is final or the
// caller cancels. Per iteration: a committed transaction is final once the
// tip is at least the commit block plus the requested confirmations; a
// rejected transaction is final immediately; everything else, including
// lookup failures, retries after one poll interval. There is no retry
// bound. Cancellation is observed before every round trip and during every
// backoff, so it takes effect within one interval.
func (a *Actor) traceTx(ctx context.Context, req TraceTxRequest, replyCh chan TraceTxResponse) {
	logger := log.WithField("actor", a.name)
	logger.Infof("trace transaction %s with %d confirmations", req.TxHash, req.Confirmations)
	for ctx.Err() == nil {
		response := a.pollTx(ctx, req, logger)
		if response != nil {
			reply(ctx, replyCh, *response)
			return
		}
		select {
		case <-a.clock.After(a.pollInterval):
		case <-ctx.Done():
			return
		}
	}
}

// pollTx runs one polling round. It returns nil when the trace should
// retry after a backoff.
func (a *Actor) pollTx(ctx context.Context, req TraceTxRequest, logger *log.Entry) *TraceTxResponse {
	txStatus, err := a.rpc.GetTransaction(ctx, req.TxHash)
	if err != nil {
		logger.Errorf("get transaction status failed: %v", err)
		return nil
	}
	switch txStatus.TxStatus.Status {
	case ckbrpc.StatusCommitted:
		tipNumber, err := a.rpc.GetTipBlockNumber(ctx)
		if err != nil {
			logger.Errorf("get tip block number failed: %v", err)
			return nil
		}
		commitNumber := uint64(0)
		if txStatus.TxStatus.BlockNumber != nil {
			commitNumber = uint64(*txStatus.TxStatus.BlockNumber)
		}
		if tipNumber < commitNumber+req.Confirmations {
			return nil
		}
		return &TraceTxResponse{Tx: txStatus.Transaction, Status: txStatus.TxStatus}
	case ckbrpc.StatusRejected:
		return &TraceTxResponse{Status: txStatus.TxStatus}
	default:
		return nil
	}
}
