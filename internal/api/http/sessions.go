package http

import (
	"encoding/json"
	"net/http"

	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

// ListSessionsHandler returns the signed in user's quiz history, newest
// first.
func ListSessionsHandler(history quiz.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		sessions, err := history.ListSessions(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if sessions == nil {
			sessions = []quiz.Session{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sessions)
	}
}

// SessionWrongAnswersHandler returns the question refs answered wrong in one
// of the user's sessions.
func SessionWrongAnswersHandler(history quiz.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		sessionID := chi.URLParam(r, "sessionID")

		sessions, err := history.ListSessions(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		owned := false
		for _, s := range sessions {
			if s.ID == sessionID {
				owned = true
				break
			}
		}
		if !owned {
			http.Error(w, "not found", 404)
			return
		}
		refs, err := history.GetSessionWrongAnswers(r.Context(), sessionID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if refs == nil {
			refs = []quiz.WrongRef{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(refs)
	}
}
