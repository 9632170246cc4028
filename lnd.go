package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/asoltys/lightning/channeldb"
)

// lndMain is the daemon entrypoint: load config, open the store, restore
// and serve. The gRPC/CLI surface the teacher wires up here is out of
// scope (spec.md §1); this brings up only the Persistence and Packet
// Acceptor/Producer layers.
func lndMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := channeldb.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := newServer(db)
	if err := srv.Start(cfg.ListenAddr); err != nil {
		return err
	}
	defer srv.Stop()

	log.Infof("lightning daemon listening on %s", cfg.ListenAddr)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Infof("shutting down")
	return nil
}

func main() {
	if err := lndMain(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
