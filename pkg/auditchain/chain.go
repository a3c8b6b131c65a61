package auditchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/models"
)

// genesisHash seeds every scope's chain; the first entry links to it.
var genesisHash = func() string {
	h := sha256.Sum256([]byte("aegis.audit.genesis.v1"))
	return hex.EncodeToString(h[:])
}()

func GenesisHash() string { return genesisHash }

// Input is the caller-supplied part of an audit entry.
type Input struct {
	ActorID    string
	EventType  string
	EntityType string
	EntityID   string
	Details    json.RawMessage
	Blocked    bool
}

// Filter narrows List and Verify reads. Zero values mean "no constraint".
type Filter struct {
	EventType    string
	EntityType   string
	EntityID     string
	FromSequence int64
	Limit        int
}

// Store is the durable backend. Insert must fail if (scope, sequence_no)
// already exists; the chain relies on that as a backstop for its
// per-scope serialization.
type Store interface {
	Head(ctx context.Context, scope string) (seq int64, hash string, err error)
	Insert(ctx context.Context, entry models.AuditEntry) error
	List(ctx context.Context, scope string, f Filter) ([]models.AuditEntry, error)
}

// Chain is the append-only, hash-linked event log. Appends to one scope
// are serialized; appends to different scopes proceed in parallel.
type Chain struct {
	store   Store
	now     func() time.Time
	publish func(models.AuditEntry)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Chain)

// WithPublisher registers a best-effort observer called after each
// successful append. It must not block.
func WithPublisher(fn func(models.AuditEntry)) Option {
	return func(c *Chain) { c.publish = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

func New(store Store, opts ...Option) *Chain {
	c := &Chain{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		locks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) scopeLock(scope string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[scope]
	if !ok {
		l = &sync.Mutex{}
		c.locks[scope] = l
	}
	return l
}

// Append writes one entry, linking it to the current head of the scope.
// Store failures propagate: an audit write that silently failed would
// break the accountability guarantee, so the triggering operation must
// fail with it.
func (c *Chain) Append(ctx context.Context, scope string, in Input) (models.AuditEntry, error) {
	if scope == "" {
		return models.AuditEntry{}, fmt.Errorf("scope required: %w", models.ErrInvalidArgument)
	}
	if in.EventType == "" {
		return models.AuditEntry{}, fmt.Errorf("event type required: %w", models.ErrInvalidArgument)
	}
	lock := c.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	seq, prevHash, err := c.store.Head(ctx, scope)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("chain head: %w", err)
	}
	if prevHash == "" {
		prevHash = genesisHash
	}
	entry := models.AuditEntry{
		ID:         uuid.New().String(),
		Scope:      scope,
		SequenceNo: seq + 1,
		PrevHash:   prevHash,
		ActorID:    in.ActorID,
		EventType:  in.EventType,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Details:    in.Details,
		Blocked:    in.Blocked,
		// TIMESTAMPTZ keeps microseconds. A finer clock would hash one
		// byte string here and a different one after a round trip
		// through the store, so the precision is pinned before hashing.
		Timestamp: c.now().Truncate(time.Microsecond),
	}
	body, err := canonicalBody(entry)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("canonicalize entry: %w", err)
	}
	entry.Hash = models.EntryHash(prevHash, body)
	if err := c.store.Insert(ctx, entry); err != nil {
		return models.AuditEntry{}, fmt.Errorf("chain insert: %w", err)
	}
	if c.publish != nil {
		c.publish(entry)
	}
	return entry, nil
}

// List returns entries for a scope, oldest first.
func (c *Chain) List(ctx context.Context, scope string, f Filter) ([]models.AuditEntry, error) {
	return c.store.List(ctx, scope, f)
}

// Verify walks the scope's chain recomputing every hash from the first
// entry (or fromSeq) and reports the first mismatch. It never repairs;
// integrity violations are surfaced for an explicit administrative
// response.
func (c *Chain) Verify(ctx context.Context, scope string, fromSeq int64) (models.VerificationResult, error) {
	entries, err := c.store.List(ctx, scope, Filter{FromSequence: fromSeq})
	if err != nil {
		return models.VerificationResult{}, err
	}
	prev := genesisHash
	expectSeq := int64(1)
	if fromSeq > 1 {
		// Resuming mid-chain anchors on the stored prev hash of the
		// first verified entry.
		expectSeq = fromSeq
		if len(entries) > 0 {
			prev = entries[0].PrevHash
		}
	}
	for i := range entries {
		e := entries[i]
		if e.SequenceNo != expectSeq {
			broken := e.SequenceNo
			return models.VerificationResult{Valid: false, Entries: len(entries), BrokenAtSequence: &broken}, nil
		}
		if e.PrevHash != prev {
			broken := e.SequenceNo
			return models.VerificationResult{Valid: false, Entries: len(entries), BrokenAtSequence: &broken}, nil
		}
		body, err := canonicalBody(e)
		if err != nil {
			broken := e.SequenceNo
			return models.VerificationResult{Valid: false, Entries: len(entries), BrokenAtSequence: &broken}, nil
		}
		if models.EntryHash(prev, body) != e.Hash {
			broken := e.SequenceNo
			return models.VerificationResult{Valid: false, Entries: len(entries), BrokenAtSequence: &broken}, nil
		}
		prev = e.Hash
		expectSeq++
	}
	return models.VerificationResult{Valid: true, Entries: len(entries)}, nil
}

// canonicalBody serializes every tamper-relevant field except the hash
// itself. Any stored-field mutation changes this form and breaks the
// recomputed chain.
func canonicalBody(e models.AuditEntry) ([]byte, error) {
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage("null")
	}
	raw, err := json.Marshal(map[string]interface{}{
		"id":          e.ID,
		"scope":       e.Scope,
		"sequence_no": e.SequenceNo,
		"actor_id":    e.ActorID,
		"event_type":  e.EventType,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"details":     details,
		"blocked":     e.Blocked,
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return models.CanonicalizeJSON(raw)
}
