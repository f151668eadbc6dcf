package notify

import (
	"context"
	"fmt"

	"planengine/internal/model"
	"planengine/internal/scope"
)

// Object is the part of a plan or goal the fabric needs.
type Object struct {
	Kind              model.Kind
	ID                string
	Name              string
	Level             model.Level
	CompanyID         string
	CreatedBy         string
	Owner             string
	ResponsiblePerson string
}

// PlanObject describes a plan.
func PlanObject(p model.Plan) Object {
	return Object{
		Kind: model.KindPlan, ID: p.ID, Name: p.Name, Level: p.Level, CompanyID: p.CompanyID,
		CreatedBy: p.CreatedBy, Owner: p.Owner, ResponsiblePerson: p.ResponsiblePerson,
	}
}

// GoalObject describes a goal.
func GoalObject(g model.Goal) Object {
	return Object{
		Kind: model.KindGoal, ID: g.ID, Name: g.Name, Level: g.Level, CompanyID: g.CompanyID,
		CreatedBy: g.CreatedBy, Owner: g.Owner, ResponsiblePerson: g.ResponsiblePerson,
	}
}

func (o Object) noun() string {
	if o.Kind == model.KindGoal {
		return "目标"
	}
	return "计划"
}

func (o Object) objectType() model.ObjectType {
	if o.Kind == model.KindGoal {
		return model.ObjectGoal
	}
	return model.ObjectPlan
}

func requestNoun(rt model.RequestType) string {
	if rt == model.RequestCancel {
		return "取消"
	}
	return "启动"
}

func withComment(body, comment string) string {
	if comment == "" {
		return body
	}
	return body + "\n备注: " + comment
}

// Submitted tells approvers in the object's company about a new request.
func (f *Fabric) Submitted(ctx context.Context, o Object, rt model.RequestType, actor scope.Principal, comment string) int {
	if f == nil || f.Disabled {
		return 0
	}
	approvers, err := f.recipients.UsersWithPermission(ctx, o.CompanyID, scope.ApprovePermission(o.Kind))
	if err != nil {
		f.log.Warn("resolve approvers failed", "object_id", o.ID, "err", err)
		return 0
	}
	sent := 0
	for _, a := range approvers {
		if a.UserID == actor.UserID {
			continue
		}
		n := model.Notification{
			UserID:     a.UserID,
			Title:      fmt.Sprintf("有新的%s需要审批", o.noun()),
			Content:    withComment(fmt.Sprintf("%s 提交了%s「%s」的%s申请", displayName(actor), o.noun(), o.Name, requestNoun(rt)), comment),
			ObjectType: o.objectType(),
			ObjectID:   o.ID,
			Event:      EventSubmit,
		}
		if f.Send(ctx, n) {
			sent++
		}
	}
	return sent
}

// Decided tells the creator, and the requester when different, how a
// request was resolved.
func (f *Fabric) Decided(ctx context.Context, o Object, req model.DecisionRequest, decider scope.Principal, comment string) int {
	if f == nil || f.Disabled {
		return 0
	}
	event, verdict := EventReject, "已驳回"
	if req.Decision == model.DecisionApprove {
		event, verdict = EventApprove, "已通过"
	}
	sent := 0
	for _, user := range unique(o.CreatedBy, req.RequestedBy) {
		n := model.Notification{
			UserID:     user,
			Title:      fmt.Sprintf("%s「%s」的%s申请%s", o.noun(), o.Name, requestNoun(req.RequestType), verdict),
			Content:    withComment(fmt.Sprintf("%s 处理了%s「%s」: %s", displayName(decider), o.noun(), o.Name, verdict), comment),
			ObjectType: o.objectType(),
			ObjectID:   o.ID,
			Event:      event,
		}
		if f.Send(ctx, n) {
			sent++
		}
	}
	return sent
}

// Published announces a published object. Company goals go to every
// active user in the company except the creator; personal items go to
// their owner.
func (f *Fabric) Published(ctx context.Context, o Object) int {
	if f == nil || f.Disabled {
		return 0
	}
	if o.Level == model.LevelCompany && o.Kind == model.KindGoal {
		users, err := f.recipients.ActiveUsers(ctx, o.CompanyID)
		if err != nil {
			f.log.Warn("resolve company users failed", "object_id", o.ID, "err", err)
			return 0
		}
		sent := 0
		for _, u := range users {
			if u.ID == o.CreatedBy {
				continue
			}
			n := model.Notification{
				UserID:     u.ID,
				Title:      fmt.Sprintf("公司目标「%s」已发布", o.Name),
				Content:    "请创建个人目标进行对齐",
				ObjectType: model.ObjectGoal,
				ObjectID:   o.ID,
				Event:      EventPublish,
			}
			if f.Send(ctx, n) {
				sent++
			}
		}
		return sent
	}
	if o.Owner == "" {
		return 0
	}
	n := model.Notification{
		UserID:     o.Owner,
		Title:      fmt.Sprintf("有待接收的%s", o.noun()),
		Content:    fmt.Sprintf("%s「%s」已发布给你，请确认接收", o.noun(), o.Name),
		ObjectType: o.objectType(),
		ObjectID:   o.ID,
		Event:      EventPublish,
	}
	if f.Send(ctx, n) {
		return 1
	}
	return 0
}

// Accepted tells the creator the owner accepted the object.
func (f *Fabric) Accepted(ctx context.Context, o Object, actor scope.Principal) int {
	if f == nil || f.Disabled || o.CreatedBy == "" || o.CreatedBy == actor.UserID {
		return 0
	}
	n := model.Notification{
		UserID:     o.CreatedBy,
		Title:      fmt.Sprintf("%s 已接收%s", displayName(actor), o.noun()),
		Content:    fmt.Sprintf("%s 已接收%s「%s」", displayName(actor), o.noun(), o.Name),
		ObjectType: o.objectType(),
		ObjectID:   o.ID,
		Event:      EventAccept,
	}
	if f.Send(ctx, n) {
		return 1
	}
	return 0
}

// Completed tells the creator the object reached completion.
func (f *Fabric) Completed(ctx context.Context, o Object) int {
	if f == nil || f.Disabled || o.CreatedBy == "" {
		return 0
	}
	n := model.Notification{
		UserID:     o.CreatedBy,
		Title:      fmt.Sprintf("%s「%s」已完成", o.noun(), o.Name),
		Content:    "所有任务已完成，系统自动完成",
		ObjectType: o.objectType(),
		ObjectID:   o.ID,
		Event:      EventCompleted,
	}
	if f.Send(ctx, n) {
		return 1
	}
	return 0
}

// DraftTimeout nudges the responsible person about a stale draft, at most
// once per dedupe window.
func (f *Fabric) DraftTimeout(ctx context.Context, o Object, days int) int {
	if f == nil || f.Disabled {
		return 0
	}
	recipient := o.ResponsiblePerson
	if recipient == "" {
		recipient = o.CreatedBy
	}
	n := model.Notification{
		UserID:     recipient,
		Title:      fmt.Sprintf("%s「%s」草稿已超时", o.noun(), o.Name),
		Content:    fmt.Sprintf("该%s已处于草稿状态 %d 天，请尽快提交", o.noun(), days),
		ObjectType: o.objectType(),
		ObjectID:   o.ID,
		Event:      EventDraftTimeout,
	}
	if f.sendOnce(ctx, n) {
		return 1
	}
	return 0
}

// ApprovalTimeout reminds approvers of a request waiting too long, at most
// once per recipient and object per dedupe window.
func (f *Fabric) ApprovalTimeout(ctx context.Context, o Object, req model.DecisionRequest, days int) int {
	if f == nil || f.Disabled {
		return 0
	}
	approvers, err := f.recipients.UsersWithPermission(ctx, o.CompanyID, scope.ApprovePermission(o.Kind))
	if err != nil {
		f.log.Warn("resolve approvers failed", "object_id", o.ID, "err", err)
		return 0
	}
	sent := 0
	for _, a := range approvers {
		if a.UserID == req.RequestedBy {
			continue
		}
		n := model.Notification{
			UserID:     a.UserID,
			Title:      fmt.Sprintf("%s审批已超时", o.noun()),
			Content:    fmt.Sprintf("%s「%s」的%s申请已等待 %d 天", o.noun(), o.Name, requestNoun(req.RequestType), days),
			ObjectType: o.objectType(),
			ObjectID:   o.ID,
			Event:      EventApprovalTimeout,
		}
		if f.sendOnce(ctx, n) {
			sent++
		}
	}
	return sent
}

// AdjustmentRequested tells approvers about a proposed deadline or target
// change.
func (f *Fabric) AdjustmentRequested(ctx context.Context, o Object, actor scope.Principal, reason string) int {
	if f == nil || f.Disabled {
		return 0
	}
	approvers, err := f.recipients.UsersWithPermission(ctx, o.CompanyID, scope.ApprovePermission(o.Kind))
	if err != nil {
		f.log.Warn("resolve approvers failed", "object_id", o.ID, "err", err)
		return 0
	}
	sent := 0
	for _, a := range approvers {
		if a.UserID == actor.UserID {
			continue
		}
		n := model.Notification{
			UserID:     a.UserID,
			Title:      fmt.Sprintf("有新的%s调整需要审批", o.noun()),
			Content:    withComment(fmt.Sprintf("%s 申请调整%s「%s」", displayName(actor), o.noun(), o.Name), reason),
			ObjectType: o.objectType(),
			ObjectID:   o.ID,
			Event:      EventAdjustment,
		}
		if f.Send(ctx, n) {
			sent++
		}
	}
	return sent
}

// AdjustmentDecided tells the requester how an adjustment was resolved.
func (f *Fabric) AdjustmentDecided(ctx context.Context, o Object, a model.AdjustmentRequest, decider scope.Principal) bool {
	verdict := "已驳回"
	if a.Status == model.AdjustmentApproved {
		verdict = "已通过"
	}
	return f.Send(ctx, model.Notification{
		UserID:     a.RequestedBy,
		Title:      fmt.Sprintf("%s「%s」的调整申请%s", o.noun(), o.Name, verdict),
		Content:    withComment(fmt.Sprintf("%s 处理了调整申请: %s", displayName(decider), verdict), a.Comment),
		ObjectType: o.objectType(),
		ObjectID:   o.ID,
		Event:      EventAdjustment,
	})
}

// Summary delivers a composed report, once per user and slot.
func (f *Fabric) Summary(ctx context.Context, userID, event, slot, title, content string) bool {
	return f.sendOnce(ctx, model.Notification{
		UserID:     userID,
		Title:      title,
		Content:    content,
		ObjectType: model.ObjectSummary,
		ObjectID:   slot,
		Event:      event,
	})
}

// TodoCreated tells the assignee about a new system todo.
func (f *Fabric) TodoCreated(ctx context.Context, t model.Todo) bool {
	return f.Send(ctx, model.Notification{
		UserID:     t.Assignee,
		Title:      "新的待办: " + t.Title,
		Content:    t.Description,
		ObjectType: model.ObjectTodo,
		ObjectID:   t.ID,
		Event:      EventTodo,
	})
}

func displayName(p scope.Principal) string {
	if p.Name != "" {
		return p.Name
	}
	return p.UserID
}

func unique(users ...string) []string {
	seen := make(map[string]struct{}, len(users))
	var out []string
	for _, u := range users {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
