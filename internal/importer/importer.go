package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/knowting/knowting/internal/access"
	"github.com/knowting/knowting/internal/quiz"
)

// TestWriter is the slice of the test store the importer writes through.
type TestWriter interface {
	CreateTest(ctx context.Context, t quiz.Test) error
	DeleteTest(ctx context.Context, id string) error
	AddQuestion(ctx context.Context, testID string, q quiz.Question) (int, error)
	AddMaterial(ctx context.Context, m quiz.Material) (string, error)
}

// CollaboratorInviter issues the pending invitations a document carries.
type CollaboratorInviter interface {
	InviteTestCollaborator(ctx context.Context, testID, email string, role access.Role) error
}

// Importer turns test documents into stored tests. Documents are validated
// whole before anything is written; a failure mid-write rolls the new test
// back.
type Importer struct {
	store  TestWriter
	collab CollaboratorInviter
}

func New(store TestWriter, collab CollaboratorInviter) *Importer {
	return &Importer{store: store, collab: collab}
}

// importDoc is the on-disk document shape. A bare array of questions is also
// accepted and becomes a public test titled "Imported Test".
type importDoc struct {
	Title         string               `json:"title" yaml:"title"`
	Description   string               `json:"description" yaml:"description"`
	Author        string               `json:"author" yaml:"author"`
	Language      string               `json:"language" yaml:"language"`
	Visibility    string               `json:"visibility" yaml:"visibility"`
	Questions     []importQuestion     `json:"questions" yaml:"questions"`
	Materials     []importMaterial     `json:"materials" yaml:"materials"`
	Collaborators []importCollaborator `json:"collaborators" yaml:"collaborators"`
}

type importQuestion struct {
	ID           int      `json:"id" yaml:"id"`
	Tag          string   `json:"tag" yaml:"tag"`
	Question     string   `json:"question" yaml:"question"`
	Options      []string `json:"options" yaml:"options"`
	AnswerIndex  int      `json:"answer_index" yaml:"answer_index"`
	Explanation  string   `json:"explanation" yaml:"explanation"`
	MaterialRefs []any    `json:"material_refs" yaml:"material_refs"`
}

type importMaterial struct {
	ID                any    `json:"id" yaml:"id"`
	MaterialType      string `json:"material_type" yaml:"material_type"`
	Title             string `json:"title" yaml:"title"`
	URL               string `json:"url" yaml:"url"`
	PauseTimes        any    `json:"pause_times" yaml:"pause_times"` // "12,34" or [12, 34]
	QuestionsPerPause int    `json:"questions_per_pause" yaml:"questions_per_pause"`
	Transcript        string `json:"transcript" yaml:"transcript"`
}

type importCollaborator struct {
	Email string `json:"email" yaml:"email"`
	Role  string `json:"role" yaml:"role"`
}

// ImportJSON accepts either the full document shape or a bare question
// array.
func (im *Importer) ImportJSON(ctx context.Context, data []byte, ownerID string) (quiz.Test, error) {
	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	var doc importDoc
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &doc.Questions); err != nil {
			return quiz.Test{}, fmt.Errorf("parse: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &doc); err != nil {
			return quiz.Test{}, fmt.Errorf("parse: %w", err)
		}
	}
	return im.importDoc(ctx, doc, ownerID)
}

// ImportYAML accepts the same shapes as ImportJSON.
func (im *Importer) ImportYAML(ctx context.Context, data []byte, ownerID string) (quiz.Test, error) {
	var doc importDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// maybe a bare question list
		var qs []importQuestion
		if lerr := yaml.Unmarshal(data, &qs); lerr != nil {
			return quiz.Test{}, fmt.Errorf("parse: %w", err)
		}
		doc = importDoc{Questions: qs}
	}
	return im.importDoc(ctx, doc, ownerID)
}

func (im *Importer) importDoc(ctx context.Context, doc importDoc, ownerID string) (quiz.Test, error) {
	if err := validateDoc(doc); err != nil {
		return quiz.Test{}, err
	}
	if doc.Title == "" {
		doc.Title = "Imported Test"
	}
	vis := access.Public
	if doc.Visibility != "" {
		vis = access.ParseVisibility(doc.Visibility)
	}

	t := quiz.Test{
		ID:          uuid.NewString(),
		Owner:       ownerID,
		Title:       doc.Title,
		Description: doc.Description,
		Author:      doc.Author,
		Language:    doc.Language,
		Visibility:  vis,
	}
	if err := im.store.CreateTest(ctx, t); err != nil {
		return quiz.Test{}, err
	}
	if err := im.fill(ctx, t.ID, doc); err != nil {
		// roll the half-written test back; cascade removes its children
		_ = im.store.DeleteTest(ctx, t.ID)
		return quiz.Test{}, err
	}
	t.QuestionCount = len(doc.Questions)
	return t, nil
}

func (im *Importer) fill(ctx context.Context, testID string, doc importDoc) error {
	// materials first so question sources can point at their new ids
	materialIDs := make(map[string]string, len(doc.Materials))
	for _, m := range doc.Materials {
		id, err := im.store.AddMaterial(ctx, quiz.Material{
			TestID:            testID,
			Kind:              m.MaterialType,
			Title:             m.Title,
			Ref:               m.URL,
			Transcript:        m.Transcript,
			PauseTimes:        coerceInts(m.PauseTimes),
			QuestionsPerPause: m.QuestionsPerPause,
		})
		if err != nil {
			return err
		}
		if key := refKey(m.ID); key != "" {
			materialIDs[key] = id
		}
	}

	used := make(map[int]bool, len(doc.Questions))
	next := 1
	for _, iq := range doc.Questions {
		num := iq.ID
		if num <= 0 || used[num] {
			for used[next] {
				next++
			}
			num = next
		}
		used[num] = true

		source := "json_import"
		if len(iq.MaterialRefs) > 0 {
			if id, ok := materialIDs[refKey(iq.MaterialRefs[0])]; ok {
				source = "material:" + id
			}
		}
		if _, err := im.store.AddQuestion(ctx, testID, quiz.Question{
			ID:           num,
			Tag:          iq.Tag,
			Prompt:       iq.Question,
			Options:      iq.Options,
			CorrectIndex: iq.AnswerIndex,
			Explanation:  iq.Explanation,
			Source:       source,
		}); err != nil {
			return err
		}
	}

	for _, c := range doc.Collaborators {
		role, ok := access.ParseRole(c.Role)
		if !ok {
			role = access.RoleStudent
		}
		if err := im.collab.InviteTestCollaborator(ctx, testID, c.Email, role); err != nil {
			return err
		}
	}
	return nil
}

// validateDoc rejects the whole document on the first malformed question.
func validateDoc(doc importDoc) error {
	if len(doc.Questions) == 0 {
		return fmt.Errorf("document has no questions")
	}
	for i, q := range doc.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d: prompt required", i+1)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %d: needs at least two options", i+1)
		}
		if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Options) {
			return fmt.Errorf("question %d: answer_index %d out of range", i+1, q.AnswerIndex)
		}
	}
	for i, c := range doc.Collaborators {
		if strings.TrimSpace(c.Email) == "" {
			return fmt.Errorf("collaborator %d: email required", i+1)
		}
	}
	return nil
}

// coerceInts reads pause times given either as a "12,34" string or as a
// number list.
func coerceInts(v any) []int {
	switch vv := v.(type) {
	case nil:
		return nil
	case string:
		var out []int
		for _, part := range strings.Split(vv, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil
			}
			out = append(out, n)
		}
		return out
	case []any:
		var out []int
		for _, item := range vv {
			switch n := item.(type) {
			case float64:
				out = append(out, int(n))
			case int:
				out = append(out, n)
			default:
				return nil
			}
		}
		return out
	default:
		return nil
	}
}

// refKey normalizes a material id (string or number) into a map key.
func refKey(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		return strconv.Itoa(int(vv))
	case int:
		return strconv.Itoa(vv)
	default:
		return fmt.Sprint(vv)
	}
}
