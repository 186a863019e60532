package http

import (
	"encoding/json"
	"net/http"

	"github.com/knowting/knowting/internal/access"
	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

// startRunRequest names the question source (exactly one of test_id,
// program_id or practice_wrong) and the run shape. A missing tags field
// means every tag; an explicitly empty list selects nothing and is rejected.
type startRunRequest struct {
	TestID        string    `json:"test_id"`
	ProgramID     string    `json:"program_id"`
	PracticeWrong bool      `json:"practice_wrong"`
	Count         int       `json:"count"`
	Tags          *[]string `json:"tags"`
	Level         string    `json:"level"`
}

// StartRunHandler assembles the question pool for the requested source and
// opens a run. Anonymous play is allowed for test and program runs when the
// server permits it; practice runs need history and therefore a signed in
// user.
func StartRunHandler(mgr *quiz.RunManager, store quiz.Store, programs quiz.ProgramStore, history quiz.HistoryStore, collab quiz.CollaboratorStore, res *access.Resolver, allowAnonymous bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		userID := authmw.SubjectFromContext(r.Context())
		if userID == "" && !allowAnonymous {
			http.Error(w, "sign in to play", http.StatusUnauthorized)
			return
		}

		cfg := quiz.StartConfig{
			Count: req.Count,
			Level: quiz.Level(req.Level),
		}
		if req.Tags != nil {
			cfg.ActiveTags = *req.Tags
			if cfg.ActiveTags == nil {
				cfg.ActiveTags = []string{}
			}
		}

		var (
			pool  []quiz.Question
			stats map[int]quiz.Stat
			err   error
		)
		switch {
		case req.TestID != "":
			ok, verr := res.CanView(r.Context(), userID, req.TestID)
			if verr != nil {
				storeErr(w, verr)
				return
			}
			if !ok {
				http.Error(w, "not found", 404)
				return
			}
			cfg.TestID = req.TestID
			pool, err = store.GetTestQuestions(r.Context(), req.TestID)
			if err == nil && userID != "" {
				stats, err = history.GetQuestionStats(r.Context(), userID, req.TestID)
			}
		case req.ProgramID != "":
			p, perr := programs.GetProgram(r.Context(), req.ProgramID)
			if perr != nil {
				storeErr(w, perr)
				return
			}
			if !p.Visibility.Listable() && !programPrivileged(r, collab, p, userID, false) {
				http.Error(w, "not found", 404)
				return
			}
			cfg.ProgramID = req.ProgramID
			pool, err = programs.ProgramQuestions(r.Context(), req.ProgramID)
		case req.PracticeWrong:
			if userID == "" {
				http.Error(w, "sign in to practice", http.StatusUnauthorized)
				return
			}
			pool, err = practicePool(r, store, history, userID)
		default:
			http.Error(w, "test_id, program_id or practice_wrong required", 400)
			return
		}
		if err != nil {
			storeErr(w, err)
			return
		}

		view, err := mgr.Start(r.Context(), userID, cfg, pool, stats)
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(view)
	}
}

// practicePool gathers every question the user has gotten wrong more often
// than right, across all tests they still may view.
func practicePool(r *http.Request, store quiz.Store, history quiz.HistoryStore, userID string) ([]quiz.Question, error) {
	refs, err := history.WrongQuestionRefs(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	byTest := make(map[string][]int)
	var order []string
	for _, ref := range refs {
		if _, seen := byTest[ref.TestID]; !seen {
			order = append(order, ref.TestID)
		}
		byTest[ref.TestID] = append(byTest[ref.TestID], ref.QuestionID)
	}
	var pool []quiz.Question
	for _, testID := range order {
		qs, err := store.GetQuestionsByIDs(r.Context(), testID, byTest[testID])
		if err != nil {
			return nil, err
		}
		pool = append(pool, qs...)
	}
	return pool, nil
}

func ViewRunHandler(mgr *quiz.RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := mgr.View(chi.URLParam(r, "runID"), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func AnswerRunHandler(mgr *quiz.RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ans quiz.Answer
		if err := json.NewDecoder(r.Body).Decode(&ans); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		view, err := mgr.Answer(r.Context(), chi.URLParam(r, "runID"), authmw.SubjectFromContext(r.Context()), ans)
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func NextRunHandler(mgr *quiz.RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := mgr.Next(r.Context(), chi.URLParam(r, "runID"), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func RetryRunHandler(mgr *quiz.RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := mgr.Retry(r.Context(), chi.URLParam(r, "runID"), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func FinishRunHandler(mgr *quiz.RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := mgr.Finish(r.Context(), chi.URLParam(r, "runID"), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			storeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

// AbandonRunHandler drops the run. Safe to call twice; the backing session
// row keeps its zero score.
func AbandonRunHandler(mgr *quiz.RunManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mgr.Abandon(chi.URLParam(r, "runID"), authmw.SubjectFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}
}
