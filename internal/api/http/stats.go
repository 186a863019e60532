package http

import (
	"encoding/json"
	"net/http"
	"strings"

	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"
)

// TopicStatsHandler aggregates the user's answer events by question tag.
// An optional ?test_id= narrows it to one test.
func TopicStatsHandler(history quiz.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		testID := strings.TrimSpace(r.URL.Query().Get("test_id"))

		stats, err := history.TopicStats(r.Context(), userID, testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if stats == nil {
			stats = []quiz.TopicStat{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

func TestsPerformanceHandler(history quiz.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		perf, err := history.TestsPerformance(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if perf == nil {
			perf = []quiz.TestPerformance{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(perf)
	}
}

func ProgramsPerformanceHandler(history quiz.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		perf, err := history.ProgramsPerformance(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if perf == nil {
			perf = []quiz.ProgramPerformance{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(perf)
	}
}

// PracticeWrongHandler previews the cross-test practice pool: questions the
// user has missed more often than not.
func PracticeWrongHandler(history quiz.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		refs, err := history.WrongQuestionRefs(r.Context(), userID)
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
