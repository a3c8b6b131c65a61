package axioms

import "aegis/pkg/models"

// Sixteen fixed axioms, four per tier. The catalog is immutable at
// runtime; only RequiresApproval and the tier weight mapping are
// admin-editable configuration.
func defaultCatalog() []models.Axiom {
	return []models.Axiom{
		// H0 — absolute, never overridable by aggregate score.
		{
			ID:   "integrity.destruction",
			Name: "No unconfirmed destruction",
			Tier: models.TierH0, RequiresApproval: true,
			Description: "Destructive operations on user or system data require explicit confirmation.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"delete all", "drop table", "wipe", "erase all", "destroy", "truncate", "rm -rf",
			}},
		},
		{
			ID:   "safety.harm",
			Name: "No harm to persons",
			Tier: models.TierH0, RequiresApproval: true,
			Description: "Actions that could cause physical or psychological harm are forbidden.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"harm", "injure", "endanger", "threaten user",
			}},
		},
		{
			ID:   "audit.tamper",
			Name: "Audit trail is inviolable",
			Tier: models.TierH0, RequiresApproval: true,
			Description: "Any attempt to alter, truncate or suppress the audit trail is forbidden.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"modify audit", "delete audit", "disable audit", "rewrite history", "suppress log",
			}},
		},
		{
			ID:   "legal.compliance",
			Name: "No unlawful action",
			Tier: models.TierH0, RequiresApproval: true,
			Description: "Actions explicitly marked unlawful by the upstream classifier are forbidden.",
			Rule: models.MatchRule{Kind: models.RuleCategory, Category: "unlawful"},
		},

		// H1 — blocking by weight, overridable with justification.
		{
			ID:   "truth.unverified",
			Name: "No unverified claims as fact",
			Tier: models.TierH1, RequiresApproval: false,
			Description: "Statements flagged as unverified must not be presented as established fact.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"unverified claim", "fabricate", "as established fact", "invent source",
			}},
		},
		{
			ID:   "privacy.exposure",
			Name: "No personal data exposure",
			Tier: models.TierH1, RequiresApproval: true,
			Description: "Personal data must not leave the governed boundary without authorization.",
			Rule: models.MatchRule{Kind: models.RuleCategory, Category: "pii"},
		},
		{
			ID:   "finance.irreversible",
			Name: "No irreversible transfers",
			Tier: models.TierH1, RequiresApproval: true,
			Description: "Irreversible financial operations require an approval workflow.",
			Rule: models.MatchRule{Kind: models.RuleRegex, Pattern: `(transfer|payout|refund|charge)\s+(all|entire|\$?\d{4,})`},
		},
		{
			ID:   "authz.bypass",
			Name: "No authorization bypass",
			Tier: models.TierH1, RequiresApproval: false,
			Description: "Circumventing role checks or capability gates is a violation.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"bypass auth", "skip permission", "elevate privilege", "impersonate admin",
			}},
		},

		// H2 — advisory weight, contributes to risk.
		{
			ID:   "resource.abuse",
			Name: "Bounded resource usage",
			Tier: models.TierH2, RequiresApproval: false,
			Description: "Unbounded fan-out, crawls or batch jobs count against risk.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"unbounded", "crawl entire", "for every user", "mass email",
			}},
		},
		{
			ID:   "external.exfil",
			Name: "Guarded external communication",
			Tier: models.TierH2, RequiresApproval: false,
			Description: "Pushing internal data to external endpoints raises risk.",
			Rule: models.MatchRule{Kind: models.RuleRegex, Pattern: `(upload|post|send)\s+.*(external|third.party|public)`},
		},
		{
			ID:   "scope.creep",
			Name: "Stay within requested scope",
			Tier: models.TierH2, RequiresApproval: false,
			Description: "Actions exceeding the user's request contribute to risk.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"additionally modify", "while at it", "also change",
			}},
		},
		{
			ID:   "config.drift",
			Name: "No silent configuration change",
			Tier: models.TierH2, RequiresApproval: false,
			Description: "Changing governed configuration outside admin surfaces raises risk.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"change threshold", "edit config silently", "disable filter",
			}},
		},

		// H3 — advisory only.
		{
			ID:   "transparency.disclosure",
			Name: "Disclose automated actions",
			Tier: models.TierH3, RequiresApproval: false,
			Description: "Automated actions should be disclosed to the affected user.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"without telling", "silently on behalf",
			}},
		},
		{
			ID:   "tone.respect",
			Name: "Respectful output",
			Tier: models.TierH3, RequiresApproval: false,
			Description: "Abusive or demeaning output is discouraged.",
			Rule: models.MatchRule{Kind: models.RuleCategory, Category: "abusive"},
		},
		{
			ID:   "efficiency.waste",
			Name: "Avoid wasteful execution",
			Tier: models.TierH3, RequiresApproval: false,
			Description: "Obviously redundant recomputation is discouraged.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"recompute everything", "retry forever",
			}},
		},
		{
			ID:   "maintainability.shortcut",
			Name: "No unmaintainable shortcuts",
			Tier: models.TierH3, RequiresApproval: false,
			Description: "Hacks that degrade the governed system's maintainability are discouraged.",
			Rule: models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{
				"hardcode credential", "temporary hack",
			}},
		},
	}
}
