/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import "slices"

// AnswerSet maps each player connection to the option indices it submitted
// for a single question.
type AnswerSet map[ConnID][]int

// PlayerAnswer is one history entry from a single player's point of view.
type PlayerAnswer struct {
	Index    int      `json:"index"`
	Question Question `json:"question"`
	Answers  []int    `json:"answers"`
}

// aggregator keeps one answer set per question shown, and remembers whether
// the latest set has already been reported as complete.
type aggregator struct {
	history   []AnswerSet
	announced bool
}

func (a *aggregator) open() {
	a.history = append(a.history, AnswerSet{})
	a.announced = false
}

func (a *aggregator) latest() (AnswerSet, bool) {
	if len(a.history) == 0 {
		return nil, false
	}

	return a.history[len(a.history)-1], true
}

func (a *aggregator) answered(conn ConnID) bool {
	set, ok := a.latest()
	if !ok {
		return false
	}

	_, ok = set[conn]

	return ok
}

// record stores a submission. It refuses a second one from the same
// connection for the open question.
func (a *aggregator) record(conn ConnID, selected []int) bool {
	set, ok := a.latest()
	if !ok {
		return false
	}

	if _, dup := set[conn]; dup {
		return false
	}

	set[conn] = slices.Clone(selected)

	return true
}

// complete reports true exactly once per question: on the first call where
// every current player has an entry in the open set. It is only checked on
// submit, so a player leaving never completes a question.
func (a *aggregator) complete(players map[ConnID]*Player) bool {
	if a.announced || len(players) == 0 {
		return false
	}

	set, ok := a.latest()
	if !ok {
		return false
	}

	for conn := range players {
		if _, ok := set[conn]; !ok {
			return false
		}
	}

	a.announced = true

	return true
}

// rekey moves a player's entries to a new connection id after a resume.
func (a *aggregator) rekey(from, to ConnID) {
	for _, set := range a.history {
		if answers, ok := set[from]; ok {
			delete(set, from)
			set[to] = answers
		}
	}
}

// sliceFor returns only the entries in which conn took part.
func (a *aggregator) sliceFor(conn ConnID, questions []Question) []PlayerAnswer {
	out := []PlayerAnswer{}

	for i, set := range a.history {
		answers, ok := set[conn]
		if !ok {
			continue
		}

		entry := PlayerAnswer{Index: i, Answers: slices.Clone(answers)}
		if i < len(questions) {
			entry.Question = questions[i]
		}

		out = append(out, entry)
	}

	return out
}

// snapshot deep-copies the full history.
func (a *aggregator) snapshot() []AnswerSet {
	out := make([]AnswerSet, 0, len(a.history))

	for _, set := range a.history {
		out = append(out, set.clone())
	}

	return out
}

func (s AnswerSet) clone() AnswerSet {
	out := make(AnswerSet, len(s))

	for conn, answers := range s {
		out[conn] = slices.Clone(answers)
	}

	return out
}
