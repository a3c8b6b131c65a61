package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"aegis/pkg/auditchain"
	"aegis/pkg/auth"
	"aegis/pkg/models"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "mint-token":
		return mintToken(args[1:], out)
	case "verify-chain":
		return verifyChain(args[1:], out)
	case "hash-body":
		return hashBody(args[1:], out)
	case "sign-payload":
		return signPayload(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "aegisctl commands:")
	fmt.Fprintln(out, "  mint-token --secret-file hs256.key --subject alice --tenant tenant-a --roles operator,admin --ttl 1h")
	fmt.Fprintln(out, "  verify-chain --entries audit.json [--scope tenant-a]")
	fmt.Fprintln(out, "  hash-body --body entry.json [--prev-hash <hex>]")
	fmt.Fprintln(out, "  sign-payload --secret-file webhook.key --body payload.json")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func mintToken(args []string, out io.Writer) error {
	fs := newFlagSet("mint-token")
	secretFile := fs.String("secret-file", "", "file holding the HS256 secret")
	subject := fs.String("subject", "", "token subject")
	tenant := fs.String("tenant", "", "tenant claim")
	roles := fs.String("roles", "operator", "comma separated roles")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secretFile == "" || *subject == "" {
		return errors.New("secret-file and subject required")
	}
	secret, err := readSecret(*secretFile)
	if err != nil {
		return err
	}
	roleList := splitRoles(*roles)
	if len(roleList) == 0 {
		return errors.New("at least one role required")
	}
	token, err := auth.MintHS256Token(secret, *subject, *tenant, roleList, *ttl, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// verifyChain replays an audit export through the chain verifier. The
// input is either the {"entries": [...]} body of GET /v1/audit or a
// bare JSON array of entries.
func verifyChain(args []string, out io.Writer) error {
	fs := newFlagSet("verify-chain")
	entriesPath := fs.String("entries", "", "audit entries json file")
	scope := fs.String("scope", "", "restrict to one scope")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *entriesPath == "" {
		return errors.New("entries required")
	}
	raw, err := os.ReadFile(*entriesPath)
	if err != nil {
		return fmt.Errorf("read entries: %w", err)
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return fmt.Errorf("decode entries: %w", err)
	}
	if len(entries) == 0 {
		return errors.New("no entries to verify")
	}

	store := auditchain.NewMemoryStore()
	scopes := map[string]struct{}{}
	ctx := context.Background()
	for _, e := range entries {
		if *scope != "" && e.Scope != *scope {
			continue
		}
		if err := store.Insert(ctx, e); err != nil {
			return fmt.Errorf("load entry seq %d: %w", e.SequenceNo, err)
		}
		scopes[e.Scope] = struct{}{}
	}
	if len(scopes) == 0 {
		return fmt.Errorf("no entries for scope %q", *scope)
	}

	chain := auditchain.New(store)
	broken := false
	for s := range scopes {
		result, err := chain.Verify(ctx, s, 0)
		if err != nil {
			return fmt.Errorf("verify scope %q: %w", s, err)
		}
		if result.Valid {
			fmt.Fprintf(out, "scope %s: ok (%d entries)\n", s, result.Entries)
			continue
		}
		broken = true
		if result.BrokenAtSequence != nil {
			fmt.Fprintf(out, "scope %s: BROKEN at sequence %d\n", s, *result.BrokenAtSequence)
		} else {
			fmt.Fprintf(out, "scope %s: BROKEN\n", s)
		}
	}
	if broken {
		return errors.New("chain verification failed")
	}
	return nil
}

// hashBody prints the canonical SHA-256 of a JSON body, optionally
// linked to a predecessor hash the way chain entries are.
func hashBody(args []string, out io.Writer) error {
	fs := newFlagSet("hash-body")
	bodyPath := fs.String("body", "", "json body file")
	prevHash := fs.String("prev-hash", "", "predecessor hash to link against")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bodyPath == "" {
		return errors.New("body required")
	}
	raw, err := os.ReadFile(*bodyPath)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	canon, err := models.CanonicalizeJSON(raw)
	if err != nil {
		return fmt.Errorf("canonicalize body: %w", err)
	}
	fmt.Fprintln(out, models.EntryHash(*prevHash, canon))
	return nil
}

func signPayload(args []string, out io.Writer) error {
	fs := newFlagSet("sign-payload")
	secretFile := fs.String("secret-file", "", "file holding the webhook secret")
	bodyPath := fs.String("body", "", "payload file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secretFile == "" || *bodyPath == "" {
		return errors.New("secret-file and body required")
	}
	secret, err := readSecret(*secretFile)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(*bodyPath)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	fmt.Fprintf(out, "%s: %s\n", auth.SignatureHeader, auth.SignPayload(secret, body))
	return nil
}

func readSecret(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", errors.New("secret file is empty")
	}
	return secret, nil
}

func splitRoles(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if role := strings.TrimSpace(part); role != "" {
			out = append(out, strings.ToLower(role))
		}
	}
	return out
}

func decodeEntries(raw []byte) ([]models.AuditEntry, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var entries []models.AuditEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var wrapped struct {
		Entries []models.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Entries, nil
}
