// Command edr-console is the operator TUI: a read-only terminal view
// onto a running (or stopped) edr-agent's shared-status record and
// SQLite store. It opens no sockets and starts no server of its own.
package main

import (
	"flag"
	"fmt"
	"os"

	"edr-agent/internal/config"
	"edr-agent/internal/console"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		configPath  string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&configPath, "config", "/etc/edr-agent/config.yaml", "Path to the agent's configuration file")
	flag.Parse()

	if showVersion {
		fmt.Printf("edr-console %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-console: loading config: %v\n", err)
		os.Exit(1)
	}

	hmacKey, err := cfg.HMACKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "edr-console: %v (audit chain verification disabled)\n", err)
	}

	fmt.Println("Starting edr-console...")
	fmt.Printf("Status: %s  Store: %s\n", cfg.Status.Path, cfg.Store.Path)

	if err := console.Run(cfg.Status.Path, cfg.Store.Path, hmacKey); err != nil {
		fmt.Fprintf(os.Stderr, "edr-console: %v\n", err)
		os.Exit(1)
	}
}
