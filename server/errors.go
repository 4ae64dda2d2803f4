package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

// apiErr is an error with an HTTP status and optional extra fields merged
// into the JSON error body.
type apiErr struct {
	status int
	msg    string
	extra  map[string]interface{}
}

func (e *apiErr) Error() string { return e.msg }

func badRequest(msg string) *apiErr   { return &apiErr{status: http.StatusBadRequest, msg: msg} }
func unauthorized(msg string) *apiErr { return &apiErr{status: http.StatusUnauthorized, msg: msg} }
func forbidden(msg string) *apiErr    { return &apiErr{status: http.StatusForbidden, msg: msg} }
func notFound(msg string) *apiErr     { return &apiErr{status: http.StatusNotFound, msg: msg} }

func (e *apiErr) withExtra(key string, val interface{}) *apiErr {
	cp := &apiErr{status: e.status, msg: e.msg, extra: map[string]interface{}{key: val}}
	for k, v := range e.extra {
		cp.extra[k] = v
	}
	return cp
}

var (
	errPingCooldown        = badRequest("active sonar recharging")
	errInsufficientBattery = badRequest("insufficient battery")
)

// writeJSON writes v as a JSON response. Map payloads gain an "ok" flag
// matching the status so clients can branch without inspecting codes.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if m, isMap := v.(map[string]interface{}); isMap {
		if _, has := m["ok"]; !has {
			m["ok"] = status < 400
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps an error to its JSON form. Unrecognized errors become 500s.
func writeErr(w http.ResponseWriter, err error) {
	var ae *apiErr
	if !errors.As(err, &ae) {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	body := map[string]interface{}{"ok": false, "error": ae.msg}
	for k, v := range ae.extra {
		body[k] = v
	}
	writeJSON(w, ae.status, body)
}
