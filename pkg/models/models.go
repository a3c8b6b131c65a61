package models

import (
	"encoding/json"
	"time"
)

// Tier is an axiom priority rank. H0 is absolute and never overridable
// by aggregate score; H3 is advisory.
type Tier string

const (
	TierH0 Tier = "H0"
	TierH1 Tier = "H1"
	TierH2 Tier = "H2"
	TierH3 Tier = "H3"
)

// Axiom is a fixed governance rule. The catalog never changes at runtime;
// only RequiresApproval and the tier weight mapping are admin-editable.
type Axiom struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Tier             Tier      `json:"priority_tier"`
	Description      string    `json:"description"`
	RequiresApproval bool      `json:"requires_approval"`
	Rule             MatchRule `json:"rule"`
}

// MatchRule is a closed tagged variant describing how an axiom is
// triggered by an action description.
type MatchRule struct {
	Kind     RuleKind `json:"kind"`
	Keywords []string `json:"keywords,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Category string   `json:"category,omitempty"`
}

type RuleKind string

const (
	RuleKeywords RuleKind = "keywords"
	RuleRegex    RuleKind = "regex"
	RuleCategory RuleKind = "category"
)

// Violation is a single triggered axiom inside an evaluation result.
type Violation struct {
	AxiomID     string `json:"axiom_id"`
	Tier        Tier   `json:"tier"`
	Description string `json:"description"`
}

// EvaluateResult is the arbitration verdict for a candidate action.
type EvaluateResult struct {
	CanProceed bool        `json:"can_proceed"`
	RiskScore  float64     `json:"risk_score"`
	Violations []Violation `json:"violations"`
	ConflictID string      `json:"conflict_id,omitempty"`
}

// Conflict is a recorded instance of a blocked or disputed action.
type Conflict struct {
	ID                 string     `json:"id"`
	Scope              string     `json:"scope"`
	ActionDescription  string     `json:"action_description"`
	TriggeredAxioms    []string   `json:"triggered_axioms"`
	RiskScore          float64    `json:"risk_score"`
	Status             string     `json:"status"`
	ResolutionOptionID string     `json:"resolution_option_id,omitempty"`
	Justification      string     `json:"justification,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

// ArbitrationStats is a read-only aggregation over conflicts.
type ArbitrationStats struct {
	TotalConflicts    int `json:"total_conflicts"`
	ResolvedConflicts int `json:"resolved_conflicts"`
	BlockedConflicts  int `json:"blocked_conflicts"`
	Rollbacks         int `json:"rollbacks"`
	PendingApprovals  int `json:"pending_approvals"`
}

// ApprovalRequest is a time-boxed workflow item routed to a privileged role.
type ApprovalRequest struct {
	ID          string     `json:"id"`
	Scope       string     `json:"scope"`
	SubjectID   string     `json:"subject_id"`
	RequestedBy string     `json:"requested_by"`
	Tier        Tier       `json:"priority_tier"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// AuditEntry is one link of the tamper-evident chain. Hash covers the
// previous hash concatenated with the canonical serialization of the
// entry body, so mutating any stored entry invalidates every later hash.
type AuditEntry struct {
	ID         string          `json:"id"`
	Scope      string          `json:"scope"`
	SequenceNo int64           `json:"sequence_no"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
	ActorID    string          `json:"actor_id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	Blocked    bool            `json:"blocked"`
	Timestamp  time.Time       `json:"timestamp"`
}

// VerificationResult reports a chain walk. BrokenAtSequence is the first
// sequence number whose recomputed hash mismatches the stored one.
type VerificationResult struct {
	Valid            bool   `json:"valid"`
	Entries          int    `json:"entries"`
	BrokenAtSequence *int64 `json:"broken_at_sequence,omitempty"`
}

// ModuleHealth tracks one governed subsystem.
type ModuleHealth struct {
	ModuleName  string     `json:"module_name"`
	Status      string     `json:"status"`
	ErrorCount  int        `json:"error_count"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// ErrorRecord is a single reported module error.
type ErrorRecord struct {
	ID         string     `json:"id"`
	Scope      string     `json:"scope"`
	ModuleName string     `json:"module_name"`
	Message    string     `json:"message"`
	Severity   string     `json:"severity"`
	Resolved   bool       `json:"resolved"`
	ReportedAt time.Time  `json:"reported_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// RenaissanceCycle is one automatic self-heal pass.
type RenaissanceCycle struct {
	ID             string     `json:"id"`
	Scope          string     `json:"scope"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	ErrorsCleared  int        `json:"errors_cleared"`
	ModulesReset   []string   `json:"modules_reset"`
	AdminValidated bool       `json:"admin_validated"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// SystemHealthState is the per-scope aggregate the state machine drives.
type SystemHealthState struct {
	Status                string `json:"status"`
	ConsecutiveFailures   int    `json:"consecutive_failures"`
	RenaissanceCycleCount int    `json:"renaissance_cycle_count"`
	SystemLocked          bool   `json:"system_locked"`
}

// HealthReport is the externally visible health summary.
type HealthReport struct {
	System  SystemHealthState `json:"system"`
	Modules []ModuleHealth    `json:"modules"`
}

// SecurityMetrics is the per-scope security counter row. Independent of
// SystemHealthState; the two escalation paths share only the audit chain.
type SecurityMetrics struct {
	ViolationCount    int  `json:"violation_count"`
	LockdownThreshold int  `json:"lockdown_threshold"`
	IsLocked          bool `json:"is_locked"`
	EncryptionEnabled bool `json:"encryption_enabled"`
	FilterEnabled     bool `json:"filter_enabled"`
}
