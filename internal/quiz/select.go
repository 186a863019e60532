package quiz

import (
	"math/rand"
	"sort"
)

// DifficultyScore is the share of recorded attempts on a question the user
// got wrong. Questions with no history sit at the neutral 0.5 so they are
// neither favored nor buried.
func DifficultyScore(stats map[int]Stat, questionID int) float64 {
	s, ok := stats[questionID]
	if !ok {
		return 0.5
	}
	total := s.Correct + s.Wrong
	if total == 0 {
		return 0.5
	}
	return float64(s.Wrong) / float64(total)
}

// SelectBalanced draws count questions from pool, spreading the draw evenly
// across activeTags while favoring questions the user has struggled with.
//
// Questions whose tag is not in activeTags are excluded up front; an empty
// intersection yields an empty selection. When count covers the whole
// filtered pool the pool is returned shuffled. Otherwise questions are
// partitioned per tag in first-seen order, each partition is ordered hardest
// first (or shuffled when stats is empty), and the result is drawn
// round-robin so no tag dominates. Tags with fewer questions drop out of the
// rotation as they empty. The final order is shuffled so tags do not
// alternate predictably.
func SelectBalanced(pool []Question, activeTags []string, count int, stats map[int]Stat, rng *rand.Rand) []Question {
	active := make(map[string]bool, len(activeTags))
	for _, t := range activeTags {
		active[t] = true
	}
	filtered := make([]Question, 0, len(pool))
	for _, q := range pool {
		if active[q.Tag] {
			filtered = append(filtered, q)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	if count >= len(filtered) {
		rng.Shuffle(len(filtered), func(i, j int) {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		})
		return filtered
	}

	var order []string
	buckets := make(map[string][]Question)
	for _, q := range filtered {
		if _, ok := buckets[q.Tag]; !ok {
			order = append(order, q.Tag)
		}
		buckets[q.Tag] = append(buckets[q.Tag], q)
	}
	for _, tag := range order {
		b := buckets[tag]
		if len(stats) > 0 {
			sort.SliceStable(b, func(i, j int) bool {
				return DifficultyScore(stats, b[i].ID) > DifficultyScore(stats, b[j].ID)
			})
		} else {
			rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
		}
	}

	selected := make([]Question, 0, count)
	for len(selected) < count && len(order) > 0 {
		tag := order[0]
		b := buckets[tag]
		selected = append(selected, b[0])
		if len(b) == 1 {
			delete(buckets, tag)
			order = order[1:]
			continue
		}
		buckets[tag] = b[1:]
		order = append(order[1:], tag)
	}

	rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})
	return selected
}

// ShuffleOptions permutes each question's options in place and follows the
// correct answer to its new position. Callers that share question values
// must clone first.
func ShuffleOptions(qs []Question, rng *rand.Rand) {
	for i := range qs {
		q := &qs[i]
		if len(q.Options) < 2 {
			continue
		}
		correct := q.Options[q.CorrectIndex]
		rng.Shuffle(len(q.Options), func(a, b int) {
			q.Options[a], q.Options[b] = q.Options[b], q.Options[a]
		})
		for idx, opt := range q.Options {
			if opt == correct {
				q.CorrectIndex = idx
				break
			}
		}
	}
}

// cloneQuestions copies the slice and each question's options so option
// shuffles cannot leak into history records or the caller's pool.
func cloneQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	copy(out, qs)
	for i := range out {
		out[i].Options = append([]string(nil), qs[i].Options...)
	}
	return out
}
