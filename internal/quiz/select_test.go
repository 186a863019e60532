package quiz_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/knowting/knowting/internal/quiz"
)

// mkPool builds a pool with n questions per tag, ids numbered across the
// whole pool in tag order.
func mkPool(perTag map[string]int, tagOrder ...string) []quiz.Question {
	var pool []quiz.Question
	id := 0
	for _, tag := range tagOrder {
		for i := 0; i < perTag[tag]; i++ {
			id++
			pool = append(pool, quiz.Question{
				ID:      id,
				Tag:     tag,
				Prompt:  fmt.Sprintf("q%d", id),
				Options: []string{"right", "wrong"},
			})
		}
	}
	return pool
}

func countByTag(qs []quiz.Question) map[string]int {
	got := map[string]int{}
	for _, q := range qs {
		got[q.Tag]++
	}
	return got
}

func TestDifficultyScore(t *testing.T) {
	stats := map[int]quiz.Stat{
		1: {Correct: 3, Wrong: 1},
		2: {Correct: 0, Wrong: 4},
		3: {},
	}
	cases := []struct {
		id   int
		want float64
	}{
		{1, 0.25},
		{2, 1},
		{3, 0.5}, // zero attempts stays neutral
		{9, 0.5}, // never seen stays neutral
	}
	for _, c := range cases {
		if got := quiz.DifficultyScore(stats, c.id); got != c.want {
			t.Fatalf("score(%d) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestSelectBalancedSpreadsTagsEvenly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pool := mkPool(map[string]int{"grammar": 10, "vocab": 10}, "grammar", "vocab")

	got := quiz.SelectBalanced(pool, []string{"grammar", "vocab"}, 10, nil, rng)
	if len(got) != 10 {
		t.Fatalf("selected %d questions, want 10", len(got))
	}
	byTag := countByTag(got)
	if byTag["grammar"] != 5 || byTag["vocab"] != 5 {
		t.Fatalf("tag split = %v, want 5/5", byTag)
	}
}

func TestSelectBalancedSmallTagDropsOut(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	pool := mkPool(map[string]int{"a": 1, "b": 5}, "a", "b")

	got := quiz.SelectBalanced(pool, []string{"a", "b"}, 4, nil, rng)
	if len(got) != 4 {
		t.Fatalf("selected %d questions, want 4", len(got))
	}
	byTag := countByTag(got)
	if byTag["a"] != 1 || byTag["b"] != 3 {
		t.Fatalf("tag split = %v, want a:1 b:3", byTag)
	}
}

func TestSelectBalancedFavorsHardQuestions(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pool := mkPool(map[string]int{"a": 6}, "a")
	// ids 3 and 5 are clearly the weakest
	stats := map[int]quiz.Stat{
		1: {Correct: 9, Wrong: 1},
		2: {Correct: 9, Wrong: 1},
		3: {Correct: 1, Wrong: 9},
		4: {Correct: 9, Wrong: 1},
		5: {Correct: 0, Wrong: 5},
		6: {Correct: 9, Wrong: 1},
	}

	got := quiz.SelectBalanced(pool, []string{"a"}, 2, stats, rng)
	if len(got) != 2 {
		t.Fatalf("selected %d questions, want 2", len(got))
	}
	picked := map[int]bool{got[0].ID: true, got[1].ID: true}
	if !picked[3] || !picked[5] {
		t.Fatalf("picked %v, want the hardest ids 3 and 5", picked)
	}
}

func TestSelectBalancedFiltersInactiveTags(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	pool := mkPool(map[string]int{"a": 3, "b": 3}, "a", "b")

	got := quiz.SelectBalanced(pool, []string{"b"}, 10, nil, rng)
	if len(got) != 3 {
		t.Fatalf("selected %d questions, want all 3 tagged b", len(got))
	}
	for _, q := range got {
		if q.Tag != "b" {
			t.Fatalf("question %d has tag %q", q.ID, q.Tag)
		}
	}

	if got := quiz.SelectBalanced(pool, nil, 10, nil, rng); len(got) != 0 {
		t.Fatalf("no active tags should select nothing, got %d", len(got))
	}
}

func TestSelectBalancedCountCoversPool(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pool := mkPool(map[string]int{"a": 4, "b": 2}, "a", "b")

	got := quiz.SelectBalanced(pool, []string{"a", "b"}, 25, nil, rng)
	if len(got) != len(pool) {
		t.Fatalf("selected %d questions, want the whole pool of %d", len(got), len(pool))
	}
	seen := map[int]bool{}
	for _, q := range got {
		if seen[q.ID] {
			t.Fatalf("question %d selected twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestSelectBalancedNeverRepeats(t *testing.T) {
	pool := mkPool(map[string]int{"a": 7, "b": 4, "c": 2}, "a", "b", "c")
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		got := quiz.SelectBalanced(pool, []string{"a", "b", "c"}, 9, nil, rng)
		if len(got) != 9 {
			t.Fatalf("seed %d: selected %d, want 9", seed, len(got))
		}
		seen := map[int]bool{}
		for _, q := range got {
			if seen[q.ID] {
				t.Fatalf("seed %d: question %d selected twice", seed, q.ID)
			}
			seen[q.ID] = true
		}
	}
}

func TestShuffleOptionsKeepsAnswerAligned(t *testing.T) {
	qs := []quiz.Question{
		{ID: 1, Options: []string{"alpha", "beta", "gamma", "delta"}, CorrectIndex: 2},
		{ID: 2, Options: []string{"yes", "no"}, CorrectIndex: 0},
	}
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		quiz.ShuffleOptions(qs, rng)
		if got := qs[0].Options[qs[0].CorrectIndex]; got != "gamma" {
			t.Fatalf("seed %d: correct option drifted to %q", seed, got)
		}
		if got := qs[1].Options[qs[1].CorrectIndex]; got != "yes" {
			t.Fatalf("seed %d: correct option drifted to %q", seed, got)
		}
	}
}
