package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/fatih/color"

	"credledger/ledger"
	"credledger/store"
)

var (
	errAuditFailed  = errors.New("chain audit failed")
	errLedgerExists = errors.New("ledger already holds data; rerun with -force to discard it")
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
)

func (a *app) blockchain(cmd string, args []string) error {
	switch {
	case cmd == "init" && (len(args) == 0 || (len(args) == 1 && args[0] == "-force")):
		if len(args) == 0 {
			if err := a.requireEmpty(); err != nil {
				return err
			}
		}
		if err := a.store.Init(); err != nil {
			return err
		}
		a.record("blockchain.init", a.cfg.DataDir, a.cfg.Backend)
		okColor.Fprintln(a.out, "Initialized new blockchain")
		return nil

	case cmd == "display" && len(args) == 0:
		chain, err := a.store.LoadChain()
		if err != nil {
			return err
		}
		return a.dump("Blockchain", chain)

	case cmd == "verify" && len(args) == 1:
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		chain, err := a.store.LoadChain()
		if err != nil {
			return err
		}
		reg, err := a.store.LoadRegistry()
		if err != nil {
			return err
		}
		rec, err := reg.Credential(idx)
		if err != nil {
			return err
		}
		valid := chain.CheckCredential(rec.Credential)
		if valid {
			okColor.Fprintf(a.out, "Result: %t\n", valid)
		} else {
			failColor.Fprintf(a.out, "Result: %t\n", valid)
		}
		today := ledger.DateOf(time.Now())
		if rec.Credential.ValidDuration.Covers(today) {
			fmt.Fprintf(a.out, "Validity window %s covers %s\n", rec.Credential.ValidDuration, today)
		} else {
			warnColor.Fprintf(a.out, "Validity window %s does not cover %s\n", rec.Credential.ValidDuration, today)
		}
		return nil

	case cmd == "audit" && len(args) == 0:
		chain, err := a.store.LoadChain()
		if err != nil {
			return err
		}
		if err := chain.Verify(); err != nil {
			failColor.Fprintf(a.out, "FAIL: %v\n", err)
			return fmt.Errorf("%w: %v", errAuditFailed, err)
		}
		okColor.Fprintf(a.out, "OK: %d block(s) verified, tail %s\n", chain.Len(), chain.TailHash())
		return nil
	}
	return errUsage
}

func (a *app) issuers(cmd string, args []string) error {
	switch {
	case cmd == "add" && len(args) == 1:
		reg, err := a.store.LoadRegistry()
		if err != nil {
			return err
		}
		ks, err := a.keyStore()
		if err != nil {
			return err
		}
		issuer, err := ks.Generate(args[0])
		if err != nil {
			return err
		}
		reg.Issuers = append(reg.Issuers, issuer)
		if err := a.store.SaveRegistry(reg); err != nil {
			return err
		}
		a.record("issuers.add", issuer.ID.String(), issuer.Name)
		okColor.Fprintln(a.out, "Created new issuer")
		return nil

	case cmd == "list" && len(args) == 0:
		reg, err := a.store.LoadRegistry()
		if err != nil {
			return err
		}
		for i, issuer := range reg.Issuers {
			fmt.Fprintf(a.out, "%d: %s\n", i, issuer)
		}
		return nil
	}
	return errUsage
}

func (a *app) subjects(cmd string, args []string) error {
	switch {
	case cmd == "add" && len(args) == 2:
		reg, err := a.store.LoadRegistry()
		if err != nil {
			return err
		}
		subject := ledger.NewSubject(args[0], args[1])
		reg.Subjects = append(reg.Subjects, subject)
		if err := a.store.SaveRegistry(reg); err != nil {
			return err
		}
		a.record("subjects.add", subject.ID.String(), "")
		okColor.Fprintln(a.out, "Created new subject")
		return nil

	case cmd == "list" && len(args) == 0:
		reg, err := a.store.LoadRegistry()
		if err != nil {
			return err
		}
		for i, subject := range reg.Subjects {
			fmt.Fprintf(a.out, "%d: %s\n", i, subject)
		}
		return nil
	}
	return errUsage
}

func (a *app) credentials(cmd string, args []string) error {
	switch {
	case cmd == "add" && (len(args) == 5 || len(args) == 6):
		return a.addCredential(args)

	case cmd == "list" && len(args) == 0:
		reg, err := a.store.LoadRegistry()
		if err != nil {
			return err
		}
		for i, rec := range reg.Credentials {
			fmt.Fprintf(a.out, "%d: %s\n", i, rec.Credential)
		}
		return nil
	}
	return errUsage
}

func (a *app) addCredential(args []string) error {
	issuerIdx, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	subjectIdx, err := parseIndex(args[1])
	if err != nil {
		return err
	}
	valid := ledger.ValidDuration{}
	if valid.From, err = ledger.ParseDate(args[4]); err != nil {
		return err
	}
	if len(args) == 6 {
		to, err := ledger.ParseDate(args[5])
		if err != nil {
			return err
		}
		valid.To = &to
	}
	if err := valid.Validate(); err != nil {
		return err
	}

	reg, err := a.store.LoadRegistry()
	if err != nil {
		return err
	}
	issuer, err := reg.Issuer(issuerIdx)
	if err != nil {
		return err
	}
	subject, err := reg.Subject(subjectIdx)
	if err != nil {
		return err
	}
	ks, err := a.keyStore()
	if err != nil {
		return err
	}
	key, err := ks.Get(issuer.ID)
	if err != nil {
		return err
	}

	c := ledger.NewCredential(ledger.Attribute{Name: args[2], Value: args[3]}, issuer, subject, valid)
	reg.Credentials = append(reg.Credentials, store.CredentialRecord{
		Credential: c,
		Issuance:   ledger.Sign(c, key, false),
		Revocation: ledger.Sign(c, key, true),
	})
	if err := a.store.SaveRegistry(reg); err != nil {
		return err
	}
	a.record("credentials.add", c.ID.String(), c.Attribute.Name)
	okColor.Fprintln(a.out, "Created new credential")
	return nil
}

func (a *app) block(cmd string, args []string) error {
	switch {
	case cmd == "new" && len(args) == 1:
		idx, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		if _, err := a.store.LoadOpenBlock(); err == nil {
			return store.ErrOpenBlockExists
		} else if !errors.Is(err, store.ErrNoOpenBlock) {
			return err
		}
		reg, err := a.store.LoadRegistry()
		if err != nil {
			return err
		}
		issuer, err := reg.Issuer(idx)
		if err != nil {
			return err
		}
		if err := a.store.SaveOpenBlock(ledger.NewBlock(issuer)); err != nil {
			return err
		}
		a.record("block.new", issuer.ID.String(), "")
		okColor.Fprintln(a.out, "Created a new block with a given issuer")
		return nil

	case (cmd == "add" || cmd == "revoke") && len(args) == 1:
		return a.addToBlock(args[0], cmd == "revoke")

	case cmd == "display" && len(args) == 0:
		b, err := a.store.LoadOpenBlock()
		if err != nil {
			return err
		}
		return a.dump("Block", b)

	case cmd == "discard" && len(args) == 0:
		if _, err := a.store.LoadOpenBlock(); err != nil {
			return err
		}
		if err := a.store.ClearOpenBlock(); err != nil {
			return err
		}
		a.record("block.discard", "", "")
		warnColor.Fprintln(a.out, "Discarded the open block")
		return nil

	case cmd == "finalize" && len(args) == 0:
		return a.finalizeBlock()
	}
	return errUsage
}

func (a *app) addToBlock(arg string, revocation bool) error {
	idx, err := parseIndex(arg)
	if err != nil {
		return err
	}
	b, err := a.store.LoadOpenBlock()
	if err != nil {
		return err
	}
	reg, err := a.store.LoadRegistry()
	if err != nil {
		return err
	}
	rec, err := reg.Credential(idx)
	if err != nil {
		return err
	}

	assertion, operation, msg := rec.Issuance, "block.add", "Added credential to the block"
	if revocation {
		assertion, operation, msg = rec.Revocation, "block.revoke", "Added credential to the block's revoking list"
	}
	if err := b.AddAssertion(assertion, revocation); err != nil {
		return err
	}
	if err := a.store.SaveOpenBlock(b); err != nil {
		return err
	}
	a.record(operation, rec.Credential.ID.String(), assertion.Fingerprint.String())
	okColor.Fprintln(a.out, msg)
	return nil
}

func (a *app) finalizeBlock() error {
	chain, err := a.store.LoadChain()
	if err != nil {
		return err
	}
	b, err := a.store.LoadOpenBlock()
	if err != nil {
		return err
	}
	if tail, ok := chain.Block(chain.Len() - 1); ok && sameContent(tail, b) {
		// A previous finalize saved the chain but did not clear the open block.
		if err := a.store.ClearOpenBlock(); err != nil {
			return err
		}
		a.logger.Warn("open block already appended; cleared", "hash", tail.Hash().String())
		warnColor.Fprintln(a.out, "Open block was already appended; cleared it")
		return nil
	}
	ks, err := a.keyStore()
	if err != nil {
		return err
	}
	key, err := ks.Get(b.Creator().ID)
	if err != nil {
		return err
	}
	if err := chain.AddBlock(b, key); err != nil {
		return err
	}
	if err := a.store.SaveChain(chain); err != nil {
		return err
	}
	if err := a.store.ClearOpenBlock(); err != nil {
		return err
	}
	a.logger.Debug("block appended", "index", chain.Len()-1, "hash", b.Hash().String())
	a.record("block.finalize", b.Hash().String(), strconv.Itoa(chain.Len()-1))
	okColor.Fprintln(a.out, "Added block to blockchain")
	return nil
}

// requireEmpty fails when the ledger already has blocks or registry
// entries. An uninitialized ledger counts as empty.
func (a *app) requireEmpty() error {
	chain, err := a.store.LoadChain()
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		return nil
	case err != nil:
		return err
	case chain.Len() > 0:
		return errLedgerExists
	}
	reg, err := a.store.LoadRegistry()
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		return nil
	case err != nil:
		return err
	case len(reg.Issuers)+len(reg.Subjects)+len(reg.Credentials) > 0:
		return errLedgerExists
	}
	return nil
}

// sameContent reports whether open carries the creator and assertions of
// appended.
func sameContent(appended, open *ledger.Block) bool {
	return appended.Creator().ID == open.Creator().ID &&
		slices.Equal(appended.Issuances(), open.Issuances()) &&
		slices.Equal(appended.Revocations(), open.Revocations())
}

func (a *app) dump(title string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("render %s: %w", title, err)
	}
	fmt.Fprintf(a.out, "%s:\n%s\n", title, payload)
	return nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return n, nil
}
