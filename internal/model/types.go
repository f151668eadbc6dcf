package model

import "time"

// Kind identifies which entity a status, request or log row refers to.
type Kind string

const (
	KindPlan Kind = "plan"
	KindGoal Kind = "goal"
)

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	return k == KindPlan || k == KindGoal
}

// Status is the lifecycle state shared by plans and goals.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPublished  Status = "published"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a locked end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Known reports whether s belongs to the status lattice.
func (s Status) Known() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Level separates organisation-owned items from personal ones.
type Level string

const (
	LevelCompany  Level = "company"
	LevelPersonal Level = "personal"
)

func (l Level) Valid() bool {
	return l == LevelCompany || l == LevelPersonal
}

// PlanPeriod is the planning horizon of a plan.
type PlanPeriod string

const (
	PeriodYearly    PlanPeriod = "yearly"
	PeriodQuarterly PlanPeriod = "quarterly"
	PeriodMonthly   PlanPeriod = "monthly"
	PeriodWeekly    PlanPeriod = "weekly"
	PeriodDaily     PlanPeriod = "daily"
)

func (p PlanPeriod) Valid() bool {
	switch p {
	case PeriodYearly, PeriodQuarterly, PeriodMonthly, PeriodWeekly, PeriodDaily:
		return true
	}
	return false
}

// GoalPeriod is the horizon a strategic goal is weighted within.
type GoalPeriod string

const (
	GoalAnnual    GoalPeriod = "annual"
	GoalHalfYear  GoalPeriod = "half_year"
	GoalQuarterly GoalPeriod = "quarterly"
	GoalMonthly   GoalPeriod = "monthly"
)

func (p GoalPeriod) Valid() bool {
	switch p {
	case GoalAnnual, GoalHalfYear, GoalQuarterly, GoalMonthly:
		return true
	}
	return false
}

// GoalType classifies a strategic goal.
type GoalType string

const (
	GoalTypeFinancial GoalType = "financial"
	GoalTypeCustomer  GoalType = "customer"
	GoalTypeProcess   GoalType = "process"
	GoalTypeGrowth    GoalType = "growth"
	GoalTypeOther     GoalType = "other"
)

func (t GoalType) Valid() bool {
	switch t {
	case GoalTypeFinancial, GoalTypeCustomer, GoalTypeProcess, GoalTypeGrowth, GoalTypeOther:
		return true
	}
	return false
}

// IndicatorKind controls how a goal indicator is capped and displayed.
type IndicatorKind string

const (
	IndicatorNumber     IndicatorKind = "number"
	IndicatorPercentage IndicatorKind = "percentage"
	IndicatorAmount     IndicatorKind = "amount"
)

func (k IndicatorKind) Valid() bool {
	return k == IndicatorNumber || k == IndicatorPercentage || k == IndicatorAmount
}

// Plan is an executable plan tied to a strategic goal.
type Plan struct {
	ID                string     `json:"id"`
	Number            string     `json:"number"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Level             Level      `json:"level"`
	Period            PlanPeriod `json:"period"`
	Status            Status     `json:"status"`
	Progress          float64    `json:"progress"`
	ResponsiblePerson string     `json:"responsible_person,omitempty"`
	Owner             string     `json:"owner,omitempty"`
	Participants      []string   `json:"participants,omitempty"`
	CollaborationPlan string     `json:"collaboration_plan,omitempty"`
	ParentPlan        string     `json:"parent_plan,omitempty"`
	RelatedGoal       string     `json:"related_goal,omitempty"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	CompanyID         string     `json:"company_id,omitempty"`
	DepartmentID      string     `json:"department_id,omitempty"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Indicator is the measurable target of a goal.
type Indicator struct {
	Name         string        `json:"name"`
	Kind         IndicatorKind `json:"kind"`
	Unit         string        `json:"unit,omitempty"`
	TargetValue  float64       `json:"target_value"`
	CurrentValue float64       `json:"current_value"`
}

// Goal is a strategic goal.
type Goal struct {
	ID                string     `json:"id"`
	Number            string     `json:"number"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Level             Level      `json:"level"`
	GoalType          GoalType   `json:"goal_type"`
	GoalPeriod        GoalPeriod `json:"goal_period"`
	Status            Status     `json:"status"`
	Indicator         Indicator  `json:"indicator"`
	CompletionRate    float64    `json:"completion_rate"`
	Weight            float64    `json:"weight"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	ParentGoal        string     `json:"parent_goal,omitempty"`
	Owner             string     `json:"owner,omitempty"`
	ResponsiblePerson string     `json:"responsible_person,omitempty"`
	CompanyID         string     `json:"company_id,omitempty"`
	DepartmentID      string     `json:"department_id,omitempty"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// DurationDays is the inclusive number of calendar days the goal spans.
func (g Goal) DurationDays() int {
	if g.StartDate == nil || g.EndDate == nil {
		return 0
	}
	start := truncateDay(*g.StartDate)
	end := truncateDay(*g.EndDate)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Progress returns the percentage the goal has reached.
func (g Goal) Progress() float64 {
	return g.CompletionRate
}

// RequestType distinguishes start and cancel decision requests.
type RequestType string

const (
	RequestStart  RequestType = "start"
	RequestCancel RequestType = "cancel"
)

func (t RequestType) Valid() bool {
	return t == RequestStart || t == RequestCancel
}

// Decision is the resolution of a decision request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecisionRequest is a start or cancel intent awaiting approval. A nil
// DecidedAt means pending.
type DecisionRequest struct {
	ID             string      `json:"id"`
	EntityType     Kind        `json:"entity_type"`
	EntityID       string      `json:"entity_id"`
	RequestType    RequestType `json:"request_type"`
	RequestedBy    string      `json:"requested_by"`
	RequestedAt    time.Time   `json:"requested_at"`
	Reason         string      `json:"reason,omitempty"`
	Decision       Decision    `json:"decision,omitempty"`
	DecidedBy      string      `json:"decided_by,omitempty"`
	DecidedAt      *time.Time  `json:"decided_at,omitempty"`
	DecisionReason string      `json:"decision_reason,omitempty"`
	CompanyID      string      `json:"company_id,omitempty"`
}

// Pending reports whether the request still awaits a decision.
func (r DecisionRequest) Pending() bool {
	return r.DecidedAt == nil
}

// StatusLog records a status mutation or a blocked transition.
type StatusLog struct {
	ID         string    `json:"id"`
	EntityType Kind      `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	OldStatus  Status    `json:"old_status"`
	NewStatus  Status    `json:"new_status"`
	ChangedBy  string    `json:"changed_by"`
	ChangedAt  time.Time `json:"changed_at"`
	Reason     string    `json:"reason"`
}

// ProgressRecord is one progress report against a plan or goal.
type ProgressRecord struct {
	ID          string    `json:"id"`
	EntityType  Kind      `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Value       float64   `json:"value"`
	Description string    `json:"description"`
	RecordedBy  string    `json:"recorded_by"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// AdjustmentStatus tracks an adjustment request.
type AdjustmentStatus string

const (
	AdjustmentPending  AdjustmentStatus = "pending"
	AdjustmentApproved AdjustmentStatus = "approved"
	AdjustmentRejected AdjustmentStatus = "rejected"
)

// AdjustmentRequest proposes a new deadline or target for an entity.
type AdjustmentRequest struct {
	ID          string           `json:"id"`
	EntityType  Kind             `json:"entity_type"`
	EntityID    string           `json:"entity_id"`
	Reason      string           `json:"reason"`
	Content     string           `json:"content"`
	NewEnd      *time.Time       `json:"new_end,omitempty"`
	NewTarget   *float64         `json:"new_target,omitempty"`
	Status      AdjustmentStatus `json:"status"`
	RequestedBy string           `json:"requested_by"`
	CreatedAt   time.Time        `json:"created_at"`
	Approver    string           `json:"approver,omitempty"`
	ApprovedAt  *time.Time       `json:"approved_at,omitempty"`
	Comment     string           `json:"comment,omitempty"`
}

// ObjectType is the kind of object a notification points to.
type ObjectType string

const (
	ObjectPlan         ObjectType = "plan"
	ObjectGoal         ObjectType = "goal"
	ObjectTodo         ObjectType = "todo"
	ObjectSummary      ObjectType = "summary"
	ObjectNotification ObjectType = "notification"
)

// Notification is an in-app inbox entry.
type Notification struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	ObjectType ObjectType `json:"object_type"`
	ObjectID   string     `json:"object_id,omitempty"`
	Event      string     `json:"event"`
	IsRead     bool       `json:"is_read"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TodoType enumerates persisted reminder kinds.
type TodoType string

const (
	TodoGoalCreation            TodoType = "goal_creation"
	TodoGoalDecomposition       TodoType = "goal_decomposition"
	TodoGoalProgressUpdate      TodoType = "goal_progress_update"
	TodoPlanCreation            TodoType = "plan_creation"
	TodoPlanDecompositionWeekly TodoType = "plan_decomposition_weekly"
	TodoPlanDecompositionDaily  TodoType = "plan_decomposition_daily"
	TodoPlanProgressUpdate      TodoType = "plan_progress_update"
)

// TodoStatus is the lifecycle of a persisted todo.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
	TodoOverdue    TodoStatus = "overdue"
)

// Todo is a persisted, usually system-generated, reminder.
type Todo struct {
	ID            string     `json:"id"`
	Assignee      string     `json:"assignee"`
	Type          TodoType   `json:"type"`
	RelatedType   string     `json:"related_type,omitempty"`
	RelatedID     string     `json:"related_id,omitempty"`
	PeriodKey     string     `json:"period_key,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Deadline      time.Time  `json:"deadline"`
	Status        TodoStatus `json:"status"`
	AutoGenerated bool       `json:"auto_generated"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CompanyID     string     `json:"company_id,omitempty"`
}

// Page is one page of a list result.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
