package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"planengine/internal/model"
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type apiError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []fieldError `json:"fields,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

var statusByCode = map[model.Code]int{
	model.CodeInvalidStatus:      http.StatusConflict,
	model.CodeDuplicatePending:   http.StatusConflict,
	model.CodeAlreadyDecided:     http.StatusConflict,
	model.CodePreconditionsUnmet: http.StatusUnprocessableEntity,
	model.CodePermissionDenied:   http.StatusForbidden,
	model.CodeNotFound:           http.StatusNotFound,
	model.CodeValidation:         http.StatusBadRequest,
	model.CodeLegacyEndpointGone: http.StatusGone,
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code model.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: message}})
}

// writeServiceError classifies err. Internal errors are logged and not
// echoed to the client.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := model.CodeOf(err)
	status := StatusFor(code)
	if code == model.CodeInternal {
		a.Log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, string(code), "internal error")
		return
	}
	body := apiError{Code: string(code), Message: err.Error()}
	var verrs model.ValidationErrors
	if errors.As(err, &verrs) {
		for _, v := range verrs {
			body.Fields = append(body.Fields, fieldError{Field: v.Field, Message: v.Message})
		}
	}
	writeJSON(w, status, errorResponse{Error: body})
}
