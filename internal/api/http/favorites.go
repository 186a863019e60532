package http

import (
	"encoding/json"
	"net/http"

	"github.com/knowting/knowting/internal/access"
	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

// ToggleFavoriteHandler stars or unstars a test for the signed in user and
// reports the resulting state.
func ToggleFavoriteHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		userID := authmw.SubjectFromContext(r.Context())

		ok, err := res.CanView(r.Context(), userID, testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if !ok {
			http.Error(w, "not found", 404)
			return
		}
		favorited, err := store.ToggleFavorite(r.Context(), userID, testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"favorited": favorited})
	}
}

func ListFavoritesHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		tests, err := store.ListFavorites(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if tests == nil {
			tests = []quiz.Test{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tests)
	}
}
