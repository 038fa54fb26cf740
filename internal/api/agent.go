package api

import (
	"net/http"

	"github.com/kalambet/frontdesk/internal/escalation"
)

// IncomingCallRequest is a caller question relayed by the voice agent.
type IncomingCallRequest struct {
	Question    string `json:"question"`
	CallerPhone string `json:"callerPhone"`
}

// IncomingCallResponse tells the voice agent what to say. Answered calls
// carry Answer; escalated calls carry RequestID.
type IncomingCallResponse struct {
	Answered  bool   `json:"answered"`
	Answer    string `json:"answer,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

func handleIncomingCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IncomingCallRequest
		if !decodeBody(w, r, &req) {
			return
		}

		out, err := deps.Engine.Handle(r.Context(), req.Question, req.CallerPhone)
		if err != nil {
			code, errType := errorStatus(err)
			if code != http.StatusServiceUnavailable {
				writeEngineError(w, err)
				return
			}
			// The agent still needs something to say to the caller.
			writeJSON(w, code, map[string]any{
				"answered": false,
				"message":  escalation.ApologyPhrase,
				"error":    errorBody{Message: err.Error(), Type: errType},
			})
			return
		}

		if out.Kind == escalation.Answered {
			writeJSON(w, http.StatusOK, IncomingCallResponse{
				Answered: true,
				Answer:   out.Answer,
				Message:  out.Message,
			})
			return
		}
		writeJSON(w, http.StatusCreated, IncomingCallResponse{
			RequestID: out.RequestID,
			Message:   out.Message,
		})
	}
}
