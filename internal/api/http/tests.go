package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/knowting/knowting/internal/access"
	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

// ListTestsHandler serves the catalog. Anonymous viewers get every
// non-hidden test; signed in viewers additionally see hidden tests they own
// or collaborate on.
func ListTestsHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
		offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
		viewerID := authmw.SubjectFromContext(r.Context())

		list, err := store.GetAllTests(r.Context(), viewerID, quiz.ListOpts{Q: q, Limit: limit, Offset: offset})
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if list == nil {
			list = []quiz.Test{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	}
}

func CreateTestHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Author      string `json:"author"`
			Language    string `json:"language"`
			Visibility  string `json:"visibility"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			http.Error(w, "title required", 400)
			return
		}
		vis := access.Public
		if req.Visibility != "" {
			vis = access.ParseVisibility(req.Visibility)
		}
		t := quiz.Test{
			ID:          uuid.NewString(),
			Owner:       authmw.SubjectFromContext(r.Context()),
			Title:       req.Title,
			Description: req.Description,
			Author:      req.Author,
			Language:    req.Language,
			Visibility:  vis,
		}
		if err := store.CreateTest(r.Context(), t); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(t)
	}
}

func GetTestHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
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
		t, err := store.GetTest(r.Context(), testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if t.Tags, err = store.ListTags(r.Context(), testID); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t)
	}
}

func UpdateTestHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canManageTest(w, r, res, testID) {
			return
		}
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Author      string `json:"author"`
			Language    string `json:"language"`
			Visibility  string `json:"visibility"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			http.Error(w, "title required", 400)
			return
		}
		t := quiz.Test{
			ID:          testID,
			Title:       req.Title,
			Description: req.Description,
			Author:      req.Author,
			Language:    req.Language,
			Visibility:  access.ParseVisibility(req.Visibility),
		}
		if err := store.UpdateTest(r.Context(), t); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteTestHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canManageTest(w, r, res, testID) {
			return
		}
		if err := store.DeleteTest(r.Context(), testID); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ExportTestHandler round-trips a test into the import document shape.
func ExportTestHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		t, err := store.GetTest(r.Context(), testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		qs, err := store.GetTestQuestions(r.Context(), testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		ms, err := store.ListMaterials(r.Context(), testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		type docQuestion struct {
			ID           int      `json:"id"`
			Tag          string   `json:"tag,omitempty"`
			Question     string   `json:"question"`
			Options      []string `json:"options"`
			AnswerIndex  int      `json:"answer_index"`
			Explanation  string   `json:"explanation,omitempty"`
			MaterialRefs []string `json:"material_refs,omitempty"`
		}
		type docMaterial struct {
			ID                string `json:"id"`
			MaterialType      string `json:"material_type"`
			Title             string `json:"title,omitempty"`
			URL               string `json:"url,omitempty"`
			PauseTimes        []int  `json:"pause_times,omitempty"`
			QuestionsPerPause int    `json:"questions_per_pause,omitempty"`
			Transcript        string `json:"transcript,omitempty"`
		}
		doc := struct {
			Title       string        `json:"title"`
			Description string        `json:"description,omitempty"`
			Author      string        `json:"author,omitempty"`
			Language    string        `json:"language,omitempty"`
			Visibility  string        `json:"visibility"`
			Questions   []docQuestion `json:"questions"`
			Materials   []docMaterial `json:"materials,omitempty"`
		}{
			Title:       t.Title,
			Description: t.Description,
			Author:      t.Author,
			Language:    t.Language,
			Visibility:  t.Visibility.String(),
			Questions:   make([]docQuestion, 0, len(qs)),
		}
		for _, q := range qs {
			dq := docQuestion{
				ID:          q.ID,
				Tag:         q.Tag,
				Question:    q.Prompt,
				Options:     q.Options,
				AnswerIndex: q.CorrectIndex,
				Explanation: q.Explanation,
			}
			if id, ok := strings.CutPrefix(q.Source, "material:"); ok {
				dq.MaterialRefs = []string{id}
			}
			doc.Questions = append(doc.Questions, dq)
		}
		for _, m := range ms {
			doc.Materials = append(doc.Materials, docMaterial{
				ID:                m.ID,
				MaterialType:      m.Kind,
				Title:             m.Title,
				URL:               m.Ref,
				PauseTimes:        m.PauseTimes,
				QuestionsPerPause: m.QuestionsPerPause,
				Transcript:        m.Transcript,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+testID+`.json"`)
		_ = json.NewEncoder(w).Encode(doc)
	}
}

// EffectiveVisibilityHandler reports the level a viewer reaching the test
// through an optional program actually gets.
func EffectiveVisibilityHandler(res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		programID := strings.TrimSpace(r.URL.Query().Get("program"))

		vis, err := res.EffectiveVisibility(r.Context(), testID, programID)
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"test_id":    testID,
			"visibility": vis,
			"listable":   vis.Listable(),
		})
	}
}

// canManageTest admits the owner and collaborators whose role manages the
// test. Denials for tests the viewer cannot even see read as 404.
func canManageTest(w http.ResponseWriter, r *http.Request, res *access.Resolver, testID string) bool {
	viewerID := authmw.SubjectFromContext(r.Context())
	ok, err := res.CanEdit(r.Context(), viewerID, testID)
	if err != nil {
		storeErr(w, err)
		return false
	}
	if !ok {
		denyTest(w, r, res, testID, viewerID)
		return false
	}
	return true
}

// canEditContent additionally admits reviewers, who may edit questions, tags
// and materials but not settings or collaborators.
func canEditContent(w http.ResponseWriter, r *http.Request, res *access.Resolver, testID string) bool {
	viewerID := authmw.SubjectFromContext(r.Context())
	ok, err := res.CanEdit(r.Context(), viewerID, testID)
	if err != nil {
		storeErr(w, err)
		return false
	}
	if !ok {
		if role, has, rerr := res.RoleForTest(r.Context(), testID, viewerID); rerr == nil && has && role.CanReview() {
			return true
		} else if rerr != nil {
			storeErr(w, rerr)
			return false
		}
		denyTest(w, r, res, testID, viewerID)
		return false
	}
	return true
}

// denyTest hides the existence of tests the viewer cannot see.
func denyTest(w http.ResponseWriter, r *http.Request, res *access.Resolver, testID, viewerID string) {
	if visible, err := res.CanView(r.Context(), viewerID, testID); err == nil && visible {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	http.Error(w, "not found", 404)
}

// storeErr maps store and domain sentinels onto HTTP statuses.
func storeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, quiz.ErrRunNotFound):
		http.Error(w, "run not found", 404)
	case errors.Is(err, quiz.ErrEmptySelection):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, quiz.ErrAlreadyAnswered),
		errors.Is(err, quiz.ErrNotAnswered),
		errors.Is(err, quiz.ErrNotInRound),
		errors.Is(err, quiz.ErrRoundNotDone),
		errors.Is(err, quiz.ErrNoWrongAnswers):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, quiz.ErrAnswerRequired), errors.Is(err, quiz.ErrUnknownLevel):
		http.Error(w, err.Error(), 400)
	default:
		http.Error(w, err.Error(), 500)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
