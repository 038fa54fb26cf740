package api

import (
	"net/http"
	"strings"

	"github.com/kalambet/frontdesk/internal/storage"
)

func handleListKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		entries, err := deps.Engine.ListKnowledge(r.Context(), limit, offset)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if entries == nil {
			entries = []storage.KnowledgeEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleSearchKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question := strings.TrimSpace(r.URL.Query().Get("question"))
		if question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		res, err := deps.Engine.Lookup(r.Context(), question)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if res.Candidates == nil {
			res.Candidates = []storage.KnowledgeEntry{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleMostUsed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", storage.DefaultSearchLimit, 50)

		entries, err := deps.Engine.MostUsed(r.Context(), limit)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if entries == nil {
			entries = []storage.KnowledgeEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
