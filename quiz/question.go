/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"github.com/samber/lo"
)

// QuestionKind tells clients whether to render radio buttons or checkboxes.
type QuestionKind string

const (
	KindSingle QuestionKind = "single"
	KindMulti  QuestionKind = "multi"
)

// Answer is one option of a question, as supplied by the host's quiz file.
type Answer struct {
	Content string `json:"content" validate:"required,max=256"`
	Correct bool   `json:"correct"`
}

// Question is read from the host and never persisted.
type Question struct {
	Title   string   `json:"title" validate:"required,max=512"`
	Answers []Answer `json:"answers" validate:"min=2,max=16,dive"`
	Time    int      `json:"time,omitempty" validate:"omitempty,min=1,max=600"` // seconds, shown by clients only
}

// PublicQuestion is what players see: no correctness markers.
type PublicQuestion struct {
	Index   int          `json:"index"`
	Title   string       `json:"title"`
	Answers []string     `json:"answers"`
	Kind    QuestionKind `json:"type"`
	Time    int          `json:"time,omitempty"`
}

func (q Question) Kind() QuestionKind {
	if lo.CountBy(q.Answers, func(a Answer) bool { return a.Correct }) > 1 {
		return KindMulti
	}

	return KindSingle
}

// Public strips correctness flags so the question is safe to broadcast.
func (q Question) Public(index int) PublicQuestion {
	return PublicQuestion{
		Index:   index,
		Title:   q.Title,
		Answers: lo.Map(q.Answers, func(a Answer, _ int) string { return a.Content }),
		Kind:    q.Kind(),
		Time:    q.Time,
	}
}

// Correctness returns the correctness vector, one flag per option.
func (q Question) Correctness() []bool {
	return lo.Map(q.Answers, func(a Answer, _ int) bool { return a.Correct })
}

// Tally counts +1 for every selected correct option and -1 for every selected
// incorrect one, floored at zero. Repeated indices count once; indices
// outside the option list count as incorrect.
func (q Question) Tally(selected []int) int {
	count := 0

	for _, i := range lo.Uniq(selected) {
		if i >= 0 && i < len(q.Answers) && q.Answers[i].Correct {
			count++
		} else {
			count--
		}
	}

	return max(count, 0)
}
