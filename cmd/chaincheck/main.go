// Command chaincheck audits a ledger data directory: the block chain's
// hashes, links and signatures, and the operations journal's hash chain.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"credledger/config"
	"credledger/journal"
	"credledger/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chaincheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("LEDGER_CONFIG"), "path to ledger YAML config")
	dataDir := fs.String("data", "", "data directory (overrides config)")
	journalPath := fs.String("journal", "", "journal JSONL file (defaults to the configured one)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *dataDir != "" {
		cfg.UseDataDir(*dataDir)
	}
	if *journalPath != "" {
		cfg.Journal.Path = *journalPath
	}

	st, err := store.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close()

	chain, err := st.LoadChain()
	if err != nil {
		fmt.Fprintf(stderr, "[chain] %s %v\n", color.RedString("FAIL:"), err)
		return 2
	}
	if err := chain.Verify(); err != nil {
		fmt.Fprintf(stderr, "[chain] %s %v\n", color.RedString("FAIL:"), err)
		return 2
	}
	fmt.Fprintf(stdout, "[chain] %s %d block(s) verified\n", color.GreenString("OK:"), chain.Len())

	count, err := journal.Verify(cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(stderr, "[journal] %s %v\n", color.RedString("FAIL:"), err)
		return 2
	}
	fmt.Fprintf(stdout, "[journal] %s %d entry(ies) verified\n", color.GreenString("OK:"), count)
	return 0
}
