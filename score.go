package main

import (
	"math"
	"sort"
)

// compatibility scores two participants' answer sets in [0,1], averaging
// per-question contributions over the questions both have answered.
// Choice questions contribute 0 or 1 on an exact answer match. Slider
// questions contribute linear proximity of the normalized positions; a
// single-position slider degrades to an exact match.
func compatibility(a, b *Participant, questions []Question) float64 {
	var sum float64
	joint := 0

	for _, q := range questions {
		ra, okA := a.Answers[q.ID]
		rb, okB := b.Answers[q.ID]
		if !okA || !okB {
			continue
		}

		joint++

		switch q.Kind {
		case QuestionChoice:
			va, okA := ra.Value.(ChoiceValue)
			vb, okB := rb.Value.(ChoiceValue)
			if okA && okB && va.AnswerID == vb.AnswerID {
				sum++
			}
		case QuestionSlider:
			va, okA := ra.Value.(SliderValue)
			vb, okB := rb.Value.(SliderValue)
			if !okA || !okB {
				continue
			}
			if q.Positions <= 1 {
				if va.Position == vb.Position {
					sum++
				}
				continue
			}
			span := float64(q.Positions - 1)
			na := float64(va.Position) / span
			nb := float64(vb.Position) / span
			sum += 1 - math.Abs(na-nb)
		}
	}

	if joint == 0 {
		return 0
	}

	return sum / float64(joint)
}

// ResultEntry is one row of a viewer's private results feed.
type ResultEntry struct {
	PartnerID    string  `json:"partner_id"`
	PartnerName  string  `json:"partner_name"`
	PartnerColor string  `json:"partner_color"`
	Score        float64 `json:"score"`
	Rank         int     `json:"rank"`
	Reason       string  `json:"reason,omitempty"`
}

// rankFor scores the viewer against every other participant, sorted
// descending with 1-based ranks. Ties keep iteration order (stable sort).
// Scores are recomputed on every call rather than cached.
func rankFor(viewer *Participant, others []*Participant, questions []Question) []ResultEntry {
	entries := make([]ResultEntry, 0, len(others))

	for _, other := range others {
		if other.ID == viewer.ID {
			continue
		}
		entries = append(entries, ResultEntry{
			PartnerID:    other.ID,
			PartnerName:  other.Name,
			PartnerColor: other.Color,
			Score:        compatibility(viewer, other, questions),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries
}

// pairKey builds the deterministic identifier for an unordered pair,
// shared by chat sessions and narrative pair insights.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "::" + b
}
