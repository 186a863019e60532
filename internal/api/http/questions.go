package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/knowting/knowting/internal/access"
	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

// questionView is the question as non-editors see it: the answer key,
// explanation and provenance stay server side.
type questionView struct {
	ID      int      `json:"id"`
	Tag     string   `json:"tag,omitempty"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// ListQuestionsHandler returns full questions to the owner and reviewers,
// stripped ones to everyone else who may view the test.
func ListQuestionsHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		viewerID := authmw.SubjectFromContext(r.Context())

		ok, err := res.CanView(r.Context(), viewerID, testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if !ok {
			http.Error(w, "not found", 404)
			return
		}
		qs, err := store.GetTestQuestions(r.Context(), testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if editorOnTest(r, res, testID, viewerID) {
			_ = json.NewEncoder(w).Encode(qs)
			return
		}
		views := make([]questionView, 0, len(qs))
		for _, q := range qs {
			views = append(views, questionView{ID: q.ID, Tag: q.Tag, Prompt: q.Prompt, Options: q.Options})
		}
		_ = json.NewEncoder(w).Encode(views)
	}
}

func AddQuestionHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		var q quiz.Question
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		q.TestID = testID
		if strings.TrimSpace(q.Source) == "" {
			q.Source = "manual"
		}
		id, err := store.AddQuestion(r.Context(), testID, q)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		q.ID = id
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(q)
	}
}

func UpdateQuestionHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		num := parseIntDefault(chi.URLParam(r, "questionID"), 0)
		if num <= 0 {
			http.Error(w, "bad question id", 400)
			return
		}
		var q quiz.Question
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		q.TestID = testID
		q.ID = num
		if err := store.UpdateQuestion(r.Context(), testID, q); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteQuestionHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		num := parseIntDefault(chi.URLParam(r, "questionID"), 0)
		if num <= 0 {
			http.Error(w, "bad question id", 400)
			return
		}
		if err := store.DeleteQuestion(r.Context(), testID, num); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// editorOnTest reports whether the viewer may see answer keys. Unlike the
// canEditContent guard it never writes a response.
func editorOnTest(r *http.Request, res *access.Resolver, testID, viewerID string) bool {
	if ok, err := res.CanEdit(r.Context(), viewerID, testID); err == nil && ok {
		return true
	}
	role, ok, err := res.RoleForTest(r.Context(), testID, viewerID)
	return err == nil && ok && role.CanReview()
}
