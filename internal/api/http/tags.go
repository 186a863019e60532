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

func ListTagsHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
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
		tags, err := store.ListTags(r.Context(), testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if tags == nil {
			tags = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tags)
	}
}

func AddTagHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		var req struct {
			Tag string `json:"tag"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		req.Tag = strings.TrimSpace(req.Tag)
		if req.Tag == "" {
			http.Error(w, "tag required", 400)
			return
		}
		if err := store.AddTag(r.Context(), testID, req.Tag); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

// RenameTagHandler renames a tag across the tag list and every question
// carrying it. Renaming onto an existing tag merges the two.
func RenameTagHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		oldTag := chi.URLParam(r, "tag")
		var req struct {
			Tag string `json:"tag"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		req.Tag = strings.TrimSpace(req.Tag)
		if req.Tag == "" {
			http.Error(w, "tag required", 400)
			return
		}
		if req.Tag == oldTag {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := store.RenameTag(r.Context(), testID, oldTag, req.Tag); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteTagHandler removes a tag. With ?delete_questions=true the questions
// tagged with it go too, otherwise they survive untagged.
func DeleteTagHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		tag := chi.URLParam(r, "tag")
		deleteQuestions := r.URL.Query().Get("delete_questions") == "true"
		if err := store.DeleteTag(r.Context(), testID, tag, deleteQuestions); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
