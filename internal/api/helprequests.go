package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/frontdesk/internal/storage"
)

// CreateHelpRequest opens a help request without consulting the knowledge base.
type CreateHelpRequest struct {
	Question    string `json:"question"`
	CallerPhone string `json:"callerPhone"`
}

// ResolveRequest is a supervisor's answer to a pending help request.
type ResolveRequest struct {
	Answer         string `json:"answer"`
	SupervisorName string `json:"supervisorName"`
}

func handleListHelpRequests(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := storage.Status(r.URL.Query().Get("status"))

		requests, err := deps.Engine.List(r.Context(), status)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if requests == nil {
			requests = []storage.HelpRequest{}
		}
		writeJSON(w, http.StatusOK, requests)
	}
}

func handleCreateHelpRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateHelpRequest
		if !decodeBody(w, r, &req) {
			return
		}

		hr, err := deps.Engine.Escalate(r.Context(), req.Question, req.CallerPhone)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"requestId":   hr.ID,
			"helpRequest": hr,
		})
	}
}

func handleGetHelpRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hr, err := deps.Engine.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hr)
	}
}

func handleResolveHelpRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResolveRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Engine.Resolve(r.Context(), chi.URLParam(r, "id"), req.Answer, req.SupervisorName)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCheckTimeouts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Engine.ExpireOverdue(r.Context(), deps.Clock.Now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"timedOutCount": n})
	}
}
