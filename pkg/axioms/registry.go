package axioms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"aegis/pkg/auditchain"
	"aegis/pkg/models"
)

// Default tier weights. H0 weight never decides a block on its own; H0
// violations block unconditionally and the weight only feeds the
// advisory risk score.
var defaultWeights = map[models.Tier]int{
	models.TierH0: 100,
	models.TierH1: 50,
	models.TierH2: 20,
	models.TierH3: 5,
}

// Registry is the static axiom catalog. Reads are unrestricted and
// concurrent; the rare admin writes share the chain's single-writer
// discipline through the registry mutex.
type Registry struct {
	mu      sync.RWMutex
	axioms  []models.Axiom
	weights map[models.Tier]int
	chain   *auditchain.Chain
}

func NewRegistry(chain *auditchain.Chain) *Registry {
	weights := make(map[models.Tier]int, len(defaultWeights))
	for k, v := range defaultWeights {
		weights[k] = v
	}
	return &Registry{
		axioms:  defaultCatalog(),
		weights: weights,
		chain:   chain,
	}
}

// List returns a copy of the catalog.
func (r *Registry) List() []models.Axiom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Axiom, len(r.axioms))
	copy(out, r.axioms)
	return out
}

func (r *Registry) Get(id string) (models.Axiom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ax := range r.axioms {
		if ax.ID == id {
			return ax, nil
		}
	}
	return models.Axiom{}, fmt.Errorf("axiom %q: %w", id, models.ErrNotFound)
}

// WeightOf returns the numeric weight for a tier, zero for unknown tiers.
func (r *Registry) WeightOf(tier models.Tier) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weights[tier]
}

// MaxWeight is the sum of every axiom's tier weight; risk scores are
// normalized against it.
func (r *Registry) MaxWeight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, ax := range r.axioms {
		total += r.weights[ax.Tier]
	}
	return total
}

// SetWeight updates the weight mapping for one tier.
func (r *Registry) SetWeight(tier models.Tier, weight int) error {
	if weight < 0 {
		return fmt.Errorf("weight must be non-negative: %w", models.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.weights[tier]; !ok {
		return fmt.Errorf("tier %q: %w", tier, models.ErrNotFound)
	}
	r.weights[tier] = weight
	return nil
}

// SetRequiresApproval flips the approval flag on one axiom and appends
// an audit entry. Authorization is enforced by the calling layer's role
// gate; the actor is recorded for accountability.
func (r *Registry) SetRequiresApproval(ctx context.Context, scope, axiomID string, required bool, actorID string) error {
	r.mu.Lock()
	idx := -1
	for i, ax := range r.axioms {
		if ax.ID == axiomID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("axiom %q: %w", axiomID, models.ErrNotFound)
	}
	previous := r.axioms[idx].RequiresApproval
	r.axioms[idx].RequiresApproval = required
	r.mu.Unlock()

	details, _ := json.Marshal(map[string]interface{}{
		"requires_approval": required,
		"previous":          previous,
	})
	if _, err := r.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  "axiom.requires_approval",
		EntityType: "axiom",
		EntityID:   axiomID,
		Details:    details,
	}); err != nil {
		// An unaudited admin write must not stand.
		r.mu.Lock()
		r.axioms[idx].RequiresApproval = previous
		r.mu.Unlock()
		return err
	}
	return nil
}

// Triggered returns every axiom whose rule matches the action description.
func (r *Registry) Triggered(action string) []models.Axiom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Axiom
	for _, ax := range r.axioms {
		if Matches(ax.Rule, action) {
			out = append(out, ax)
		}
	}
	return out
}
