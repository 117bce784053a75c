package main

import (
	"time"
)

// AnswerValue is a sealed union over the two answer shapes.
type AnswerValue interface {
	answerValue()
}

type ChoiceValue struct {
	AnswerID string
}

type SliderValue struct {
	Position int
}

func (ChoiceValue) answerValue() {}
func (SliderValue) answerValue() {}

// AnswerRecord is immutable once written; first answer wins.
type AnswerRecord struct {
	Value          AnswerValue
	SubmittedAtMs  int64
	SecondsElapsed float64
	Ordinal        int
}

type Participant struct {
	ID      string
	Name    string
	Color   string
	Answers map[string]AnswerRecord
}

func newParticipant(id, name, color string) *Participant {
	return &Participant{
		ID:      id,
		Name:    name,
		Color:   color,
		Answers: make(map[string]AnswerRecord),
	}
}

func (p *Participant) answered(questionID string) bool {
	_, ok := p.Answers[questionID]
	return ok
}

// answerLedger tracks per-question bookkeeping shared across participants:
// when each question was first shown and the next submission ordinal.
type answerLedger struct {
	shownAt  map[string]time.Time
	ordinals map[string]int
}

func newAnswerLedger() *answerLedger {
	return &answerLedger{
		shownAt:  make(map[string]time.Time),
		ordinals: make(map[string]int),
	}
}

func (l *answerLedger) reset() {
	l.shownAt = make(map[string]time.Time)
	l.ordinals = make(map[string]int)
}

// markShown records the server-side start time for a question. Must happen
// before the question is announced, so a fast answer never races the timer.
func (l *answerLedger) markShown(questionID string, now time.Time) {
	if _, ok := l.shownAt[questionID]; !ok {
		l.shownAt[questionID] = now
	}
}

// submit writes the participant's answer for a question. Returns false when
// the participant already holds a record for it; the stored record is never
// modified. Elapsed time falls back to zero when no shown-time exists.
func (l *answerLedger) submit(p *Participant, questionID string, value AnswerValue, now time.Time) (AnswerRecord, bool) {
	if p.answered(questionID) {
		return AnswerRecord{}, false
	}

	shown, ok := l.shownAt[questionID]
	if !ok {
		shown = now
		l.shownAt[questionID] = shown
	}

	record := AnswerRecord{
		Value:          value,
		SubmittedAtMs:  now.UnixMilli(),
		SecondsElapsed: now.Sub(shown).Seconds(),
		Ordinal:        l.ordinals[questionID],
	}
	l.ordinals[questionID]++

	p.Answers[questionID] = record

	return record, true
}
