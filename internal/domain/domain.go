package domain

import "time"

// Stage is one of the eight pipeline states of a service order.
type Stage string

const (
	StageRoteiro     Stage = "ROTEIRO"
	StageAudio       Stage = "AUDIO"
	StageCaptacao    Stage = "CAPTACAO"
	StageEdicao      Stage = "EDICAO"
	StageRevisao     Stage = "REVISAO"
	StageAprovacao   Stage = "APROVACAO"
	StageAgendamento Stage = "AGENDAMENTO"
	StagePostado     Stage = "POSTADO"
)

// Pipeline lists the stages in order. The index of a stage is its pipeline position.
var Pipeline = []Stage{
	StageRoteiro,
	StageAudio,
	StageCaptacao,
	StageEdicao,
	StageRevisao,
	StageAprovacao,
	StageAgendamento,
	StagePostado,
}

// Index returns the pipeline position of s, or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, st := range Pipeline {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

// Terminal reports whether s is the final stage.
func (s Stage) Terminal() bool { return s == StagePostado }

// Role is the team function responsible for a stage.
type Role string

const (
	RoleRoteirista Role = "ROTEIRISTA"
	RoleAudio      Role = "AUDIO"
	RoleVideo      Role = "VIDEO"
	RoleEditor     Role = "EDITOR"
	RoleRevisor    Role = "REVISOR"
	RoleCrispim    Role = "CRISPIM"
	RoleSocial     Role = "SOCIAL"
	RoleAdmin      Role = "ADMIN"
)

var Roles = []Role{RoleRoteirista, RoleAudio, RoleVideo, RoleEditor, RoleRevisor, RoleCrispim, RoleSocial, RoleAdmin}

func (r Role) Valid() bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// AssetKind tags a produced artifact.
type AssetKind string

const (
	AssetScript    AssetKind = "SCRIPT"
	AssetAudio     AssetKind = "AUDIO"
	AssetRawVideo  AssetKind = "RAW_VIDEO"
	AssetFirstEdit AssetKind = "FIRST_EDIT"
	AssetCaption   AssetKind = "CAPTION"
	AssetThumbnail AssetKind = "THUMBNAIL"
	AssetArt       AssetKind = "ART"
)

var AssetKinds = []AssetKind{AssetScript, AssetAudio, AssetRawVideo, AssetFirstEdit, AssetCaption, AssetThumbnail, AssetArt}

func (k AssetKind) Valid() bool {
	for _, v := range AssetKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Action tags an event log entry.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionStatusChange Action = "STATUS_CHANGE"
	ActionReject       Action = "REJECT"
	ActionSLAOverdue   Action = "SLA_OVERDUE"
	ActionSLAAtRisk    Action = "SLA_AT_RISK"
	ActionPost         Action = "POST"
	ActionChecklist    Action = "CHECKLIST"
	ActionAsset        Action = "ASSET"
	ActionApproval     Action = "APPROVAL"
)

type ServiceOrder struct {
	ID               string     `json:"id"`
	OrgID            string     `json:"org_id"`
	Title            string     `json:"title"`
	Stage            Stage      `json:"stage" enum:"ROTEIRO,AUDIO,CAPTACAO,EDICAO,REVISAO,APROVACAO,AGENDAMENTO,POSTADO"`
	Priority         Priority   `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	ResponsibleUser  *string    `json:"responsible_user,omitempty"`
	SLADeadline      *time.Time `json:"sla_deadline,omitempty" format:"date-time"`
	InternalApproved bool       `json:"internal_approved"`
	ExternalApproved bool       `json:"external_approved"`
	CreatedAt        time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time  `json:"updated_at" format:"date-time"`
}

type ChecklistItem struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Stage    Stage  `json:"stage"`
	Title    string `json:"title"`
	Required bool   `json:"required"`
	Done     bool   `json:"done"`
}

type Asset struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Kind      AssetKind `json:"kind"`
	URI       string    `json:"uri,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// Event is an append-only audit record. ActorID is nil for system and webhook actions.
type Event struct {
	ID      int64     `json:"id"`
	TS      time.Time `json:"ts" format:"date-time"`
	OrgID   string    `json:"org_id"`
	OrderID string    `json:"order_id"`
	ActorID *string   `json:"actor_id,omitempty"`
	Action  Action    `json:"action"`
	Detail  string    `json:"detail"`
	Payload string    `json:"payload_json"`
}

type RoleAssignment struct {
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
