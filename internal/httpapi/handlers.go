package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"planengine/internal/auth"
	"planengine/internal/model"
	"planengine/internal/progress"
	"planengine/internal/scope"
	"planengine/internal/service"
	"planengine/internal/stats"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return decodeStrict(w, r.Body, dst)
}

func decodeStrict(w http.ResponseWriter, body io.Reader, dst any) bool {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	// An empty body decodes to the zero value.
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, string(model.CodeValidation), "invalid payload: "+err.Error())
		return false
	}
	return true
}

// decodePatch refuses any "status" key, null included, before decoding
// the patch. Status only moves through start and cancel requests.
func (a *API) decodePatch(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(model.CodeValidation), "invalid payload: "+err.Error())
		return false
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(raw, &keys); err != nil {
			writeError(w, http.StatusBadRequest, string(model.CodeValidation), "invalid payload: "+err.Error())
			return false
		}
		if _, ok := keys["status"]; ok {
			a.writeServiceError(w, r, model.Invalid("status", "cannot be patched, request a start or cancel instead"))
			return false
		}
	}
	return decodeStrict(w, bytes.NewReader(raw), dst)
}

func principal(r *http.Request) scope.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func intParam(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func boolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// optBool returns nil when the parameter is absent.
func optBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, model.Invalid(name, "must be true or false, got %q", raw)
	}
	return &b, nil
}

func statuses(r *http.Request) []model.Status {
	var out []model.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, model.Status(s))
			}
		}
	}
	return out
}

func (a *API) handleListPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := a.Service.ListPlans(r.Context(), principal(r), service.PlanQuery{
		Statuses:      statuses(r),
		Level:         model.Level(q.Get("level")),
		Period:        model.PlanPeriod(q.Get("period")),
		Range:         q.Get("range"),
		Mine:          boolParam(r, "mine"),
		Participating: boolParam(r, "participating"),
		Overdue:       boolParam(r, "overdue"),
		Q:             q.Get("q"),
		Page:          intParam(r, "page"),
		PageSize:      intParam(r, "page_size"),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := a.Service.GetPlan(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var in service.PlanInput
	if !decodeJSON(w, r, &in) {
		return
	}
	plan, err := a.Service.CreatePlan(r.Context(), principal(r), in, boolParam(r, "draft"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (a *API) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var patch service.PlanPatch
	if !a.decodePatch(w, r, &patch) {
		return
	}
	plan, err := a.Service.UpdatePlan(r.Context(), principal(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) handleListGoals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := a.Service.ListGoals(r.Context(), principal(r), service.GoalQuery{
		Statuses: statuses(r),
		Level:    model.Level(q.Get("level")),
		Period:   model.GoalPeriod(q.Get("period")),
		Range:    q.Get("range"),
		Mine:     boolParam(r, "mine"),
		Overdue:  boolParam(r, "overdue"),
		Q:        q.Get("q"),
		Page:     intParam(r, "page"),
		PageSize: intParam(r, "page_size"),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	g, err := a.Service.GetGoal(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var in service.GoalInput
	if !decodeJSON(w, r, &in) {
		return
	}
	g, err := a.Service.CreateGoal(r.Context(), principal(r), in, boolParam(r, "draft"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	var patch service.GoalPatch
	if !a.decodePatch(w, r, &patch) {
		return
	}
	g, err := a.Service.UpdateGoal(r.Context(), principal(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleRequest(kind model.Kind, cancel bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body reasonRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		id, p := chi.URLParam(r, "id"), principal(r)
		var (
			req *model.DecisionRequest
			err error
		)
		switch {
		case kind == model.KindPlan && cancel:
			req, err = a.Service.RequestPlanCancel(r.Context(), p, id, body.Reason)
		case kind == model.KindPlan:
			req, err = a.Service.RequestPlanStart(r.Context(), p, id, body.Reason)
		case cancel:
			req, err = a.Service.RequestGoalCancel(r.Context(), p, id, body.Reason)
		default:
			req, err = a.Service.RequestGoalStart(r.Context(), p, id, body.Reason)
		}
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, req)
	}
}

type decideRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

func (a *API) handleDecide(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body decideRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		decide := a.Service.DecidePlanRequest
		if kind == model.KindGoal {
			decide = a.Service.DecideGoalRequest
		}
		res, err := decide(r.Context(), principal(r), chi.URLParam(r, "requestID"), body.Approve, body.Reason)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type progressRequest struct {
	// Value is the plan progress or the goal's current indicator value.
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

func (a *API) handleProgress(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body progressRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		var (
			out any
			err error
		)
		if kind == model.KindPlan {
			out, err = a.Service.UpdatePlanProgress(r.Context(), principal(r), chi.URLParam(r, "id"), body.Value, body.Description)
		} else {
			out, err = a.Service.UpdateGoalProgress(r.Context(), principal(r), chi.URLParam(r, "id"), body.Value, body.Description)
		}
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (a *API) handleProgressHistory(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := a.Service.ProgressHistory(r.Context(), principal(r), kind, chi.URLParam(r, "id"))
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records})
	}
}

func (a *API) handleStatusHistory(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := a.Service.StatusHistory(r.Context(), principal(r), kind, chi.URLParam(r, "id"))
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": logs})
	}
}

func (a *API) handleHandoff(kind model.Kind, accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, p := chi.URLParam(r, "id"), principal(r)
		var (
			status model.Status
			err    error
		)
		switch {
		case kind == model.KindPlan && accept:
			status, err = a.Service.AcceptPlan(r.Context(), p, id)
		case kind == model.KindPlan:
			status, err = a.Service.PublishPlan(r.Context(), p, id)
		case accept:
			status, err = a.Service.AcceptGoal(r.Context(), p, id)
		default:
			status, err = a.Service.PublishGoal(r.Context(), p, id)
		}
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": status})
	}
}

func (a *API) handleRequestAdjustment(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in progress.AdjustmentInput
		if !decodeJSON(w, r, &in) {
			return
		}
		adj, err := a.Service.RequestAdjustment(r.Context(), principal(r), kind, chi.URLParam(r, "id"), in)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, adj)
	}
}

func (a *API) handleDecideAdjustment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approve bool   `json:"approve"`
		Comment string `json:"comment"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	adj, err := a.Service.DecideAdjustment(r.Context(), principal(r), chi.URLParam(r, "id"), body.Approve, body.Comment)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

func (a *API) handleDescendants(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			items any
			err   error
		)
		if kind == model.KindPlan {
			items, err = a.Service.PlanDescendants(r.Context(), principal(r), chi.URLParam(r, "id"))
		} else {
			items, err = a.Service.GoalDescendants(r.Context(), principal(r), chi.URLParam(r, "id"))
		}
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (a *API) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	pending, err := optBool(r, "pending")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	page, err := a.Service.ListPendingDecisions(r.Context(), principal(r), service.DecisionQuery{
		Pending:    pending,
		EntityType: model.Kind(r.URL.Query().Get("entity_type")),
		Page:       intParam(r, "page"),
		PageSize:   intParam(r, "page_size"),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleListTodos(w http.ResponseWriter, r *http.Request) {
	list, err := a.Service.ListTodos(r.Context(), principal(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCompleteTodo(w http.ResponseWriter, r *http.Request) {
	if err := a.Service.CompleteTodo(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	isRead, err := optBool(r, "is_read")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	page, err := a.Service.ListNotifications(r.Context(), principal(r), service.NotificationQuery{
		IsRead:   isRead,
		Page:     intParam(r, "page"),
		PageSize: intParam(r, "page_size"),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.Service.UnreadCount(r.Context(), principal(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := a.Service.MarkRead(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.Service.MarkAllRead(r.Context(), principal(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (a *API) handleStats(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := stats.Query{
			Mine:          boolParam(r, "mine"),
			Participating: boolParam(r, "participating"),
			Range:         r.URL.Query().Get("range"),
		}
		var (
			counts stats.Counts
			err    error
		)
		if kind == model.KindPlan {
			counts, err = a.Service.StatsPlans(r.Context(), principal(r), q)
		} else {
			counts, err = a.Service.StatsGoals(r.Context(), principal(r), q)
		}
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}
