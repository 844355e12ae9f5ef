package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"credledger/config"
	"credledger/journal"
	"credledger/keystore"
	"credledger/store"
)

const (
	exitOK    = 0
	exitError = 1
	exitAudit = 2
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("LEDGER_CONFIG"), "path to ledger YAML config")
	dataDir := fs.String("data", "", "data directory (overrides config)")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage(stdout)
			return exitOK
		}
		return exitError
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return exitError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", color.RedString("error:"), err)
		return exitError
	}
	if *dataDir != "" {
		cfg.UseDataDir(*dataDir)
	}
	logger := cfg.Logger(stderr)

	st, err := store.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		logger.Error("open store", "backend", cfg.Backend, "dir", cfg.DataDir, "err", err)
		return exitError
	}
	defer st.Close()

	a := &app{
		cfg:    cfg,
		store:  st,
		out:    stdout,
		logger: logger,
	}
	if cfg.JournalEnabled() {
		a.journal = journal.New(cfg.Journal.Path, "ledgerctl")
	}

	err = a.dispatch(fs.Args())
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		usage(stderr)
		return exitError
	case errors.Is(err, errAuditFailed):
		return exitAudit
	default:
		fmt.Fprintf(stderr, "%s %v\n", color.RedString("error:"), err)
		return exitError
	}
}

type app struct {
	cfg     *config.Config
	store   store.Store
	keys    *keystore.Store
	journal *journal.Journal
	out     io.Writer
	logger  *slog.Logger
}

// keyStore opens the key file on first use so read-only commands never
// touch it.
func (a *app) keyStore() (*keystore.Store, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	ks, err := keystore.Open(a.cfg.Keystore.Path, a.cfg.Keystore.Passphrase, a.logger)
	if err != nil {
		return nil, err
	}
	a.keys = ks
	return ks, nil
}

// record appends to the operations journal. A journal failure is logged and
// does not undo the operation, which is already persisted.
func (a *app) record(operation, target, detail string) {
	if a.journal == nil {
		return
	}
	if _, err := a.journal.Record(operation, target, detail); err != nil {
		a.logger.Error("journal append failed", "operation", operation, "err", err)
	}
}

func (a *app) dispatch(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	group, cmd, rest := args[0], args[1], args[2:]
	switch group {
	case "blockchain", "chain":
		return a.blockchain(cmd, rest)
	case "block":
		return a.block(cmd, rest)
	case "credentials":
		return a.credentials(cmd, rest)
	case "issuers":
		return a.issuers(cmd, rest)
	case "subjects":
		return a.subjects(cmd, rest)
	default:
		return errUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: ledgerctl [-config ledger.yaml] [-data ./data] <group> <command> [args]

  blockchain init [-force]             initialize an empty ledger; -force discards existing data
  blockchain display                   print the chain
  blockchain verify <credential>       check whether a credential is currently valid
  blockchain audit                     verify hashes, links and block signatures
  issuers add <name>                   create an issuer and its signing key
  issuers list
  subjects add <name> <surname>
  subjects list
  credentials add <issuer> <subject> <name> <value> <from> [to]
  credentials list
  block new <issuer>                   open a block created by an issuer
  block add <credential>               add a credential's issuance to the open block
  block revoke <credential>            add a credential's revocation to the open block
  block display
  block discard                        drop the open block
  block finalize                       link, sign and append the open block
`)
}
