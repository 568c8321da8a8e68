package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"haine/internal/apperr"
	"haine/internal/utils/log"

	"go.uber.org/zap"
)

type result struct {
	Result any `json:"result"`
}

func writeResult(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, result{Result: v})
}

// writeError reports err with its code; anything that is not an
// *apperr.Error is logged and reported as Internal.
func writeError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	if e.Code == apperr.CodeInternal {
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, e.Status(), e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// requireString returns the named form or query value; a missing or blank
// value is a MissingParam error.
func requireString(r *http.Request, name string) (string, error) {
	v := r.FormValue(name)
	if strings.TrimSpace(v) == "" {
		return "", apperr.MissingParam(name)
	}
	return v, nil
}

func requireInt(r *http.Request, name string) (int64, error) {
	v, err := requireString(r, name)
	if err != nil {
		return 0, err
	}
	return parseInt(name, v)
}

// optionalInt returns def when the value is absent.
func optionalInt(r *http.Request, name string, def int64) (int64, error) {
	v := r.FormValue(name)
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return parseInt(name, v)
}

func parseInt(name, v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, apperr.InvalidParam(name)
	}
	return n, nil
}
