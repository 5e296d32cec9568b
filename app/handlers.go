package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/thecloudgarage/cloudomate/app/scripts"
)

type errorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

// writeError renders the standard error envelope. Every error response shares
// this shape so clients can branch on the status code alone.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]errorBody{"error": {
		Code:    code,
		Type:    http.StatusText(code),
		Message: message,
	}})
}

// parseParams decodes the request body as JSON. An absent Content-Type is
// treated as JSON; any other type is rejected unless force_json is on. An
// empty body yields empty params.
func parseParams(r *http.Request) (map[string]any, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	if !strings.HasPrefix(ct, "application/json") && !cfg.ForceJSON {
		return nil, errors.New("this application only supports json, please set the http header Content-Type to application/json")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("invalid json body: %v", err)
	}
	return params, nil
}

func authChallenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Basic realm=cloudomate")
	writeError(w, http.StatusUnauthorized, "")
}

// authenticate enforces HTTP Basic auth against the loaded passfile. With no
// passfile configured every request passes. No session is retained; each
// request re-authenticates.
func authenticate(w http.ResponseWriter, r *http.Request) bool {
	pf := passwords.Load()
	if pf == nil {
		return true
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		authChallenge(w)
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		authChallenge(w)
		return false
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || !pf.Check(username, password) {
		logger.Warn("authentication failed", "user", username, "remote", r.RemoteAddr)
		authChallenge(w)
		return false
	}
	return true
}

// prepare runs the shared per-request steps: body parsing then auth, in that
// order (a bad content type is reported even to unauthenticated callers, as
// the original gateway did).
func prepare(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	params, err := parseParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if !authenticate(w, r) {
		return nil, false
	}
	return params, true
}

func scriptNamesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := prepare(w, r); !ok {
		return
	}
	q := scripts.ParseTagQuery(r.URL.Query())
	writeJSON(w, http.StatusOK, map[string][]string{"script_names": registry.Snapshot().Names(q)})
}

func scriptListHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := prepare(w, r); !ok {
		return
	}
	q := scripts.ParseTagQuery(r.URL.Query())
	writeJSON(w, http.StatusOK, map[string][]*scripts.Descriptor{"scripts": registry.Snapshot().Metadata(q)})
}

// scriptHandler serves OPTIONS metadata lookups and script execution for all
// four verbs. The snapshot and descriptor are resolved once; a reload racing
// this request cannot swap the descriptor mid-flight.
func scriptHandler(w http.ResponseWriter, r *http.Request) {
	params, ok := prepare(w, r)
	if !ok {
		return
	}

	name := mux.Vars(r)["name"]
	script, ok := registry.Snapshot().Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Script with name '%s' not found", name))
		return
	}

	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusOK, map[string]*scripts.Descriptor{"script": script})
		return
	}

	if script.HTTPMethod != strings.ToLower(r.Method) {
		writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("Wrong HTTP method for script '%s'. Use '%s'", script.Name, strings.ToUpper(script.HTTPMethod)))
		return
	}

	incExecution(script.Name)
	start := time.Now()
	result, err := runner.Run(r.Context(), script, params)
	recordDuration(script.Name, time.Since(start))
	if err != nil {
		incFailure(script.Name)
		if errors.Is(err, scripts.ErrTimeout) {
			writeError(w, http.StatusGatewayTimeout, err.Error())
		} else {
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	body := map[string]any{
		"stdout":        result.Stdout,
		"return_values": scripts.ExtractReturnValues(script.Name, result.Stdout),
		"retcode":       result.ExitCode,
	}
	if script.Output == scripts.OutputSeparate {
		body["stderr"] = result.Stderr
	}
	writeJSON(w, http.StatusOK, body)
}

func reloadHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := prepare(w, r); !ok {
		return
	}
	if err := reload(); err != nil {
		logger.Error("reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthzHandler reports server readiness.
func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("X-Last-Reload", lastReloadTime.Value())
	w.WriteHeader(http.StatusOK)
}

// logRequests wraps every handler with access logging via a status recorder.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		logger.Info("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

// newRouter assembles the route table. Unmatched paths and verbs still get
// the JSON error envelope.
func newRouter() http.Handler {
	r := mux.NewRouter().StrictSlash(true)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "")
	})

	r.HandleFunc("/script_names", scriptNamesHandler).Methods(http.MethodGet)
	r.HandleFunc("/scripts", scriptListHandler).Methods(http.MethodGet)
	r.HandleFunc("/scripts/{name}", scriptHandler).
		Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions)
	r.HandleFunc("/reload", reloadHandler).Methods(http.MethodPost)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", metricsHandler).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	r.Use(c.Handler)
	r.Use(logRequests)
	return r
}
