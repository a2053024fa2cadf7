// Command cfnd runs the payment channel node's on-chain layer: a chain
// actor connected to a CKB node.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/doitian/cfn-node/chain"
	"github.com/doitian/cfn-node/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	log.SetLevel(level)

	key, err := cfg.ReadSecretKey()
	if err != nil {
		log.WithError(err).Fatal("reading secret key")
	}

	actor, err := chain.NewActor(chain.Config{
		Name:    "ckb",
		RPCURL:  cfg.RPCURL,
		Network: cfg.CKBNetwork(),
		Key:     key,
	})
	if err != nil {
		log.WithError(err).Fatal("creating chain actor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting chain actor...")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return actor.Run(ctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("chain actor exited")
	}
	log.Info("shut down")
}
