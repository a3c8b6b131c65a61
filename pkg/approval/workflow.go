package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/auditchain"
	"aegis/pkg/models"
)

// DefaultTTL bounds how long a request stays actionable.
const DefaultTTL = 24 * time.Hour

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// Store is the durable approval-request table. The workflow is the sole
// writer of status transitions.
type Store interface {
	Insert(ctx context.Context, req models.ApprovalRequest) error
	Get(ctx context.Context, scope, id string) (models.ApprovalRequest, error)
	Update(ctx context.Context, req models.ApprovalRequest) error
	Delete(ctx context.Context, scope, id string) error
	List(ctx context.Context, scope, status string, limit int) ([]models.ApprovalRequest, error)
}

// Notifier pushes a human-readable alert to the privileged role.
// Strictly best-effort: a failed notification never fails the request.
type Notifier interface {
	Notify(ctx context.Context, title, content string) error
}

// Resolver hands the decision back to the arbitration engine: approval
// resolves the underlying conflict, rejection sustains the block.
type Resolver interface {
	Override(ctx context.Context, scope, conflictID, selectedOptionID, justification, actorID string) (models.Conflict, error)
	Block(ctx context.Context, scope, conflictID, reason, actorID string) (models.Conflict, error)
}

type Workflow struct {
	store    Store
	chain    *auditchain.Chain
	notifier Notifier
	resolver Resolver
	ttl      time.Duration
	now      func() time.Time
	logf     func(format string, args ...any)
}

type Option func(*Workflow)

func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

func WithResolver(r Resolver) Option {
	return func(w *Workflow) { w.resolver = r }
}

func WithTTL(ttl time.Duration) Option {
	return func(w *Workflow) {
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(w *Workflow) { w.logf = logf }
}

func New(store Store, chain *auditchain.Chain, opts ...Option) *Workflow {
	w := &Workflow{
		store: store,
		chain: chain,
		ttl:   DefaultTTL,
		now:   func() time.Time { return time.Now().UTC() },
		logf:  log.Printf,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Request opens a time-boxed approval request for a subject (a conflict
// or validation id) and notifies the privileged role. The notification
// is fire-and-forget.
func (w *Workflow) Request(ctx context.Context, scope, subjectID, requestedBy string, tier models.Tier) (models.ApprovalRequest, error) {
	if strings.TrimSpace(subjectID) == "" {
		return models.ApprovalRequest{}, fmt.Errorf("subject id required: %w", models.ErrInvalidArgument)
	}
	now := w.now()
	req := models.ApprovalRequest{
		ID:          uuid.New().String(),
		Scope:       scope,
		SubjectID:   subjectID,
		RequestedBy: requestedBy,
		Tier:        tier,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(w.ttl),
	}
	if err := w.store.Insert(ctx, req); err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("record approval request: %w", err)
	}
	details, _ := json.Marshal(map[string]interface{}{
		"subject_id": subjectID,
		"tier":       tier,
		"expires_at": req.ExpiresAt.Format(time.RFC3339),
	})
	if _, err := w.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    requestedBy,
		EventType:  "approval.request",
		EntityType: "approval_request",
		EntityID:   req.ID,
		Details:    details,
	}); err != nil {
		_ = w.store.Delete(ctx, scope, req.ID)
		return models.ApprovalRequest{}, err
	}
	if w.notifier != nil {
		title := fmt.Sprintf("approval required (%s)", tier)
		content := fmt.Sprintf("subject %s requested by %s, expires %s", subjectID, requestedBy, req.ExpiresAt.Format(time.RFC3339))
		if err := w.notifier.Notify(ctx, title, content); err != nil {
			w.logf("approval: notify for request %s failed: %v", req.ID, err)
		}
	}
	return req, nil
}

// Process decides a pending request. Expiry is re-checked here even when
// a sweep already runs, so a stale client can never approve a dead
// request. Approval resolves the subject conflict through the resolver;
// rejection sustains the block.
func (w *Workflow) Process(ctx context.Context, scope, requestID string, approved bool, actorID, reason string) (models.ApprovalRequest, error) {
	req, err := w.store.Get(ctx, scope, requestID)
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	if req.Status != StatusPending {
		return models.ApprovalRequest{}, fmt.Errorf("request %s is %s: %w", requestID, req.Status, models.ErrAlreadyDecided)
	}
	now := w.now()
	if now.After(req.ExpiresAt) {
		w.markExpired(ctx, req)
		return models.ApprovalRequest{}, fmt.Errorf("request %s expired at %s: %w", requestID, req.ExpiresAt.Format(time.RFC3339), models.ErrExpired)
	}

	previous := req
	req.Status = StatusRejected
	eventType := "approval.reject"
	if approved {
		req.Status = StatusApproved
		eventType = "approval.approve"
	}
	req.DecidedBy = actorID
	req.DecidedAt = &now
	req.Reason = reason
	if err := w.store.Update(ctx, req); err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("update approval request: %w", err)
	}
	details, _ := json.Marshal(map[string]interface{}{
		"subject_id": req.SubjectID,
		"approved":   approved,
		"reason":     reason,
	})
	if _, err := w.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  eventType,
		EntityType: "approval_request",
		EntityID:   req.ID,
		Details:    details,
	}); err != nil {
		_ = w.store.Update(ctx, previous)
		return models.ApprovalRequest{}, err
	}

	if w.resolver != nil {
		justification := reason
		if strings.TrimSpace(justification) == "" {
			justification = "approved via request " + req.ID
		}
		var resolveErr error
		if approved {
			_, resolveErr = w.resolver.Override(ctx, scope, req.SubjectID, "approval:"+req.ID, justification, actorID)
		} else {
			_, resolveErr = w.resolver.Block(ctx, scope, req.SubjectID, justification, actorID)
		}
		if resolveErr != nil {
			// The subject may have been decided directly in the meantime;
			// the request decision stands either way.
			w.logf("approval: resolving subject %s for request %s failed: %v", req.SubjectID, req.ID, resolveErr)
		}
	}
	return req, nil
}

// ListPending filters expiry at read time, so callers never see a
// stale-but-expired request as actionable. Requests found past their
// deadline are transitioned on the spot.
func (w *Workflow) ListPending(ctx context.Context, scope string) ([]models.ApprovalRequest, error) {
	pending, err := w.store.List(ctx, scope, StatusPending, 0)
	if err != nil {
		return nil, err
	}
	now := w.now()
	out := make([]models.ApprovalRequest, 0, len(pending))
	for _, req := range pending {
		if now.After(req.ExpiresAt) {
			w.markExpired(ctx, req)
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (w *Workflow) CountPending(ctx context.Context, scope string) (int, error) {
	pending, err := w.ListPending(ctx, scope)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (w *Workflow) Get(ctx context.Context, scope, requestID string) (models.ApprovalRequest, error) {
	return w.store.Get(ctx, scope, requestID)
}

func (w *Workflow) List(ctx context.Context, scope, status string, limit int) ([]models.ApprovalRequest, error) {
	return w.store.List(ctx, scope, status, limit)
}

// SweepExpired is the optional periodic pass; lazy expiry already keeps
// reads correct, this just settles the stored rows. Returns how many
// requests were transitioned.
func (w *Workflow) SweepExpired(ctx context.Context, scope string) (int, error) {
	pending, err := w.store.List(ctx, scope, StatusPending, 0)
	if err != nil {
		return 0, err
	}
	now := w.now()
	swept := 0
	for _, req := range pending {
		if now.After(req.ExpiresAt) {
			w.markExpired(ctx, req)
			swept++
		}
	}
	return swept, nil
}

// markExpired settles a dead pending request. Best-effort: the lazy
// read filter already hides it, so a failed write only delays cleanup.
func (w *Workflow) markExpired(ctx context.Context, req models.ApprovalRequest) {
	req.Status = StatusExpired
	if err := w.store.Update(ctx, req); err != nil {
		w.logf("approval: expiring request %s failed: %v", req.ID, err)
	}
}
