package media

import (
	"fmt"
	"strings"
)

// Action is a capability the evaluator decides on. The set is closed; each
// action carries its policy tier as data in actionPolicies.
type Action int

const (
	ActionRead Action = iota + 1
	ActionList
	ActionCreate
	ActionEdit
	ActionDelete
	ActionEmbed
	ActionReadPrivateOthers
	ActionEditOthers
	ActionDeleteOthers
	ActionManageTaxonomy
)

type tier int

const (
	tierAdministrative tier = iota + 1
	tierMinimum
	tierEmbed
)

type actionPolicy struct {
	name string
	tier tier
	// escalation is evaluated instead when the subject does not own the target.
	escalation Action
	// visibility: only non-public targets escalate.
	visibility bool
}

var actionPolicies = map[Action]actionPolicy{
	ActionRead:              {name: "read", tier: tierMinimum, escalation: ActionReadPrivateOthers, visibility: true},
	ActionList:              {name: "list", tier: tierMinimum},
	ActionCreate:            {name: "create", tier: tierMinimum, escalation: ActionEditOthers},
	ActionEdit:              {name: "edit", tier: tierMinimum, escalation: ActionEditOthers},
	ActionDelete:            {name: "delete", tier: tierMinimum, escalation: ActionDeleteOthers},
	ActionEmbed:             {name: "embed", tier: tierEmbed},
	ActionReadPrivateOthers: {name: "read_private_others", tier: tierAdministrative},
	ActionEditOthers:        {name: "edit_others", tier: tierAdministrative},
	ActionDeleteOthers:      {name: "delete_others", tier: tierAdministrative},
	ActionManageTaxonomy:    {name: "manage_taxonomy", tier: tierAdministrative},
}

func (a Action) String() string {
	if p, ok := actionPolicies[a]; ok {
		return p.name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Administrative reports whether the action belongs to the administrative subset.
func (a Action) Administrative() bool {
	p, ok := actionPolicies[a]
	return ok && p.tier == tierAdministrative
}

// MinimumCapability is the configured floor every non-administrative action
// must meet.
type MinimumCapability int

const (
	RequireAuthenticated MinimumCapability = iota
	RequireSubscriber
	RequireContributor
)

// ParseMinimumCapability accepts "authenticated", "subscriber" or "contributor".
func ParseMinimumCapability(s string) (MinimumCapability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "authenticated":
		return RequireAuthenticated, nil
	case "subscriber":
		return RequireSubscriber, nil
	case "contributor":
		return RequireContributor, nil
	}
	return RequireAuthenticated, fmt.Errorf("unknown minimum capability: %q", s)
}

// AccessPolicy configures the evaluator.
type AccessPolicy struct {
	Minimum MinimumCapability
	// Multisite requires network administrators for administrative actions.
	Multisite bool
}

// Decision is the outcome of Decide. Reason is zero when Allowed.
type Decision struct {
	Allowed bool
	Action  Action // the action finally evaluated, after escalation
	Reason  ErrorCode
}

// Err converts a denial to a domain error; it returns nil when allowed.
func (d Decision) Err(op string, id int64) error {
	if d.Allowed {
		return nil
	}
	return &Error{Code: d.Reason, Op: op, ID: id, Message: "not permitted to " + d.Action.String()}
}

// Evaluator is a pure decision function over (subject, action, target).
type Evaluator struct {
	policy AccessPolicy
}

// NewEvaluator creates an evaluator for the policy.
func NewEvaluator(policy AccessPolicy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Decide returns Allow or a specific denial for every input; it never panics.
// target is the entry acted upon, or the parent directory for ActionCreate
// (nil for the owner's root).
func (ev *Evaluator) Decide(s Subject, a Action, target *Entry) Decision {
	p, ok := actionPolicies[a]
	if !ok {
		return Decision{Action: a, Reason: ErrUnknownAction}
	}

	switch p.tier {
	case tierAdministrative:
		return ev.administrative(s, a, target)
	case tierEmbed:
		// Read-only render of one known public entry is open to anyone.
		if target != nil && target.Status.IsPublic() {
			return Decision{Allowed: true, Action: a}
		}
		return ev.Decide(s, ActionRead, target)
	}

	if !ev.meetsMinimum(s) {
		return Decision{Action: a, Reason: ErrBelowMinimumCapability}
	}

	if target != nil && p.escalation != 0 && !s.Owns(target) {
		if !p.visibility || !target.Status.IsPublic() {
			return ev.administrative(s, p.escalation, target)
		}
	}

	return Decision{Allowed: true, Action: a}
}

func (ev *Evaluator) administrative(s Subject, a Action, target *Entry) Decision {
	if ev.isAdmin(s, target) {
		return Decision{Allowed: true, Action: a}
	}
	return Decision{Action: a, Reason: ErrInsufficientRole}
}

// isAdmin: network administrators always; site administrators only on
// single-site deployments and only within their own tenant.
func (ev *Evaluator) isAdmin(s Subject, target *Entry) bool {
	if s.NetworkAdmin {
		return true
	}
	if ev.policy.Multisite || !s.Authenticated() || s.Role < RoleAdministrator {
		return false
	}
	return target == nil || target.TenantID == s.TenantID
}

func (ev *Evaluator) meetsMinimum(s Subject) bool {
	if s.NetworkAdmin {
		return true
	}
	if !s.Authenticated() {
		return false
	}
	switch ev.policy.Minimum {
	case RequireSubscriber:
		return s.Role >= RoleSubscriber
	case RequireContributor:
		return s.Role >= RoleContributor
	default:
		return true
	}
}
