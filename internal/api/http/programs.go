package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/knowting/knowting/internal/access"
	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

func ListProgramsHandler(store quiz.ProgramStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
		offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
		viewerID := authmw.SubjectFromContext(r.Context())

		list, err := store.ListPrograms(r.Context(), viewerID, quiz.ListOpts{Q: q, Limit: limit, Offset: offset})
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if list == nil {
			list = []quiz.Program{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	}
}

func CreateProgramHandler(store quiz.ProgramStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
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
		p := quiz.Program{
			ID:          uuid.NewString(),
			Owner:       authmw.SubjectFromContext(r.Context()),
			Title:       req.Title,
			Description: req.Description,
			Visibility:  vis,
		}
		if err := store.CreateProgram(r.Context(), p); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(p)
	}
}

func GetProgramHandler(store quiz.ProgramStore, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		viewerID := authmw.SubjectFromContext(r.Context())

		p, err := store.GetProgram(r.Context(), programID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if !p.Visibility.Listable() && !programPrivileged(r, collab, p, viewerID, false) {
			http.Error(w, "not found", 404)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	}
}

func UpdateProgramHandler(store quiz.ProgramStore, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		p, ok := requireProgramManager(w, r, store, collab, programID)
		if !ok {
			return
		}
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
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
		p.Title = req.Title
		p.Description = req.Description
		p.Visibility = access.ParseVisibility(req.Visibility)
		if err := store.UpdateProgram(r.Context(), p); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteProgramHandler(store quiz.ProgramStore, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		if _, ok := requireProgramManager(w, r, store, collab, programID); !ok {
			return
		}
		if err := store.DeleteProgram(r.Context(), programID); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListProgramTestsHandler returns the member tests with their per-program
// visibility override.
func ListProgramTestsHandler(store quiz.ProgramStore, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		viewerID := authmw.SubjectFromContext(r.Context())

		p, err := store.GetProgram(r.Context(), programID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if !p.Visibility.Listable() && !programPrivileged(r, collab, p, viewerID, false) {
			http.Error(w, "not found", 404)
			return
		}
		tests, err := store.ListProgramTests(r.Context(), programID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if tests == nil {
			tests = []quiz.ProgramTest{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tests)
	}
}

// AttachTestHandler adds a test to the program, optionally capping its
// visibility for viewers who reach it through the program. Re-attaching
// updates the override.
func AttachTestHandler(store quiz.ProgramStore, collab quiz.CollaboratorStore, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		testID := chi.URLParam(r, "testID")
		if _, ok := requireProgramManager(w, r, store, collab, programID); !ok {
			return
		}
		viewerID := authmw.SubjectFromContext(r.Context())
		visible, err := res.CanView(r.Context(), viewerID, testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if !visible {
			http.Error(w, "test not found", 404)
			return
		}
		var req struct {
			ProgramVisibility string `json:"program_visibility"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		vis := access.Public
		if req.ProgramVisibility != "" {
			vis = access.ParseVisibility(req.ProgramVisibility)
		}
		if err := store.AttachTest(r.Context(), programID, testID, vis); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DetachTestHandler(store quiz.ProgramStore, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		testID := chi.URLParam(r, "testID")
		if _, ok := requireProgramManager(w, r, store, collab, programID); !ok {
			return
		}
		if err := store.DetachTest(r.Context(), programID, testID); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ProgramTagsHandler returns the distinct tag set across member tests, used
// to configure program-wide quiz runs.
func ProgramTagsHandler(store quiz.ProgramStore, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		viewerID := authmw.SubjectFromContext(r.Context())

		p, err := store.GetProgram(r.Context(), programID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if !p.Visibility.Listable() && !programPrivileged(r, collab, p, viewerID, false) {
			http.Error(w, "not found", 404)
			return
		}
		tags, err := store.ProgramTags(r.Context(), programID)
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

// requireProgramManager loads the program and admits its owner or an
// accepted admin collaborator. On denial it has already written the
// response.
func requireProgramManager(w http.ResponseWriter, r *http.Request, store quiz.ProgramStore, collab quiz.CollaboratorStore, programID string) (quiz.Program, bool) {
	p, err := store.GetProgram(r.Context(), programID)
	if err != nil {
		storeErr(w, err)
		return quiz.Program{}, false
	}
	viewerID := authmw.SubjectFromContext(r.Context())
	if !programPrivileged(r, collab, p, viewerID, true) {
		if p.Visibility.Listable() {
			http.Error(w, "forbidden", http.StatusForbidden)
		} else {
			http.Error(w, "not found", 404)
		}
		return quiz.Program{}, false
	}
	return p, true
}

// programPrivileged checks ownership or an accepted collaboration on the
// program. With manage set only admin collaborators qualify.
func programPrivileged(r *http.Request, collab quiz.CollaboratorStore, p quiz.Program, viewerID string, manage bool) bool {
	if viewerID == "" {
		return false
	}
	if p.Owner != "" && p.Owner == viewerID {
		return true
	}
	members, err := collab.ListProgramCollaborators(r.Context(), p.ID)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.UserID != viewerID || m.Status != access.StatusAccepted {
			continue
		}
		if !manage || m.Role.CanManage() {
			return true
		}
	}
	return false
}
