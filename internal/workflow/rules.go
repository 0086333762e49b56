package workflow

import (
	"context"
	"time"

	"osline/internal/domain"
)

// Reader is the read-only slice of the order store that validators may consult.
type Reader interface {
	ListChecklistItems(ctx context.Context, orderID string, stage domain.Stage) ([]domain.ChecklistItem, error)
	ListAssets(ctx context.Context, orderID string, kind domain.AssetKind) ([]domain.Asset, error)
}

// Check is the input handed to a validator.
type Check struct {
	Order  domain.ServiceOrder
	Reader Reader
}

// Validator returns nil when the order may leave its stage, or an error whose
// message names the missing prerequisite.
type Validator func(ctx context.Context, c Check) error

// TransitionRule moves an order from one stage to the next.
type TransitionRule struct {
	From     domain.Stage
	To       domain.Stage
	Validate Validator
	Role     domain.Role
	// SLA is the time allotted on entering To. Zero means no deadline.
	SLA time.Duration
}

const (
	entryRole = domain.RoleRoteirista
	entrySLA  = 24 * time.Hour

	// RejectionWindow is the flat rework window granted by every rejection.
	RejectionWindow = 24 * time.Hour
)

var rules = []TransitionRule{
	{From: domain.StageRoteiro, To: domain.StageAudio, Validate: requireChecklist, Role: domain.RoleAudio, SLA: 24 * time.Hour},
	{From: domain.StageAudio, To: domain.StageCaptacao, Validate: requireAssets(domain.AssetAudio), Role: domain.RoleVideo, SLA: 24 * time.Hour},
	{From: domain.StageCaptacao, To: domain.StageEdicao, Validate: requireAssets(domain.AssetRawVideo), Role: domain.RoleEditor, SLA: 24 * time.Hour},
	{From: domain.StageEdicao, To: domain.StageRevisao, Validate: requireAssets(domain.AssetFirstEdit, domain.AssetCaption, domain.AssetThumbnail), Role: domain.RoleRevisor, SLA: 48 * time.Hour},
	{From: domain.StageRevisao, To: domain.StageAprovacao, Validate: requireInternalApproval, Role: domain.RoleCrispim, SLA: 24 * time.Hour},
	{From: domain.StageAprovacao, To: domain.StageAgendamento, Validate: requireExternalApproval, Role: domain.RoleSocial, SLA: 24 * time.Hour},
	{From: domain.StageAgendamento, To: domain.StagePostado, Validate: webhookOnly, Role: domain.RoleSocial},
}

// Rules returns a copy of the transition table in pipeline order.
func Rules() []TransitionRule {
	out := make([]TransitionRule, len(rules))
	copy(out, rules)
	return out
}

// RuleFrom returns the single rule leaving stage.
func RuleFrom(stage domain.Stage) (TransitionRule, bool) {
	for _, r := range rules {
		if r.From == stage {
			return r, true
		}
	}
	return TransitionRule{}, false
}

// Predecessor returns the stage before stage, following rule order.
func Predecessor(stage domain.Stage) (domain.Stage, bool) {
	for _, r := range rules {
		if r.To == stage {
			return r.From, true
		}
	}
	return "", false
}

// ResponsibleRole returns the role that owns work in stage.
func ResponsibleRole(stage domain.Stage) domain.Role {
	if stage == domain.Pipeline[0] {
		return entryRole
	}
	for _, r := range rules {
		if r.To == stage {
			return r.Role
		}
	}
	return ""
}
