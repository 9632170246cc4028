package main

import (
	"os"

	"github.com/asoltys/lightning/bootstrap"
	"github.com/asoltys/lightning/lnwallet"
	"github.com/btcsuite/btclog"
)

var log = btclog.NewBackend(os.Stdout).Logger("LNDD")

func init() {
	lnwallet.UseLogger(btclog.NewBackend(os.Stdout).Logger("CRE"))
	bootstrap.UseLogger(btclog.NewBackend(os.Stdout).Logger("BOOT"))
}
