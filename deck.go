package main

// QuestionKind discriminates the two question shapes.
type QuestionKind string

const (
	QuestionChoice QuestionKind = "choice"
	QuestionSlider QuestionKind = "slider"
)

type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Question is a tagged union: Options is populated for choice questions,
// Positions/Labels for sliders. IDs are stable within a question set.
type Question struct {
	ID     string       `json:"id"`
	Kind   QuestionKind `json:"kind"`
	Prompt string       `json:"prompt"`

	Options []Option `json:"options,omitempty"`

	Positions int      `json:"positions,omitempty"`
	Labels    []string `json:"labels,omitempty"`
}

// DeckProvider resolves a question-set reference to its ordered questions.
// Deck content and generation are external concerns; the core only needs
// lookup.
type DeckProvider interface {
	QuestionSet(ref string) ([]Question, bool)
}

type builtinDecks struct {
	sets map[string][]Question
}

func newBuiltinDecks() *builtinDecks {
	return &builtinDecks{
		sets: map[string][]Question{
			"icebreakers": {
				{
					ID:     "ib-1",
					Kind:   QuestionChoice,
					Prompt: "Pick your ideal Friday night.",
					Options: []Option{
						{ID: "a", Label: "Board games at home"},
						{ID: "b", Label: "Live music"},
						{ID: "c", Label: "A long dinner"},
						{ID: "d", Label: "Early to bed"},
					},
				},
				{
					ID:        "ib-2",
					Kind:      QuestionSlider,
					Prompt:    "Morning person or night owl?",
					Positions: 6,
					Labels:    []string{"Sunrise", "Midnight"},
				},
				{
					ID:     "ib-3",
					Kind:   QuestionChoice,
					Prompt: "You win a free trip. Where to?",
					Options: []Option{
						{ID: "a", Label: "Mountains"},
						{ID: "b", Label: "Coast"},
						{ID: "c", Label: "A big city"},
						{ID: "d", Label: "Nowhere, staycation"},
					},
				},
				{
					ID:        "ib-4",
					Kind:      QuestionSlider,
					Prompt:    "Plan everything, or wing it?",
					Positions: 5,
					Labels:    []string{"Spreadsheet", "Chaos"},
				},
			},
			"deep-cuts": {
				{
					ID:     "dc-1",
					Kind:   QuestionChoice,
					Prompt: "What matters most in a friend?",
					Options: []Option{
						{ID: "a", Label: "Honesty"},
						{ID: "b", Label: "Loyalty"},
						{ID: "c", Label: "Humor"},
						{ID: "d", Label: "Ambition"},
					},
				},
				{
					ID:        "dc-2",
					Kind:      QuestionSlider,
					Prompt:    "How much does the past define you?",
					Positions: 7,
					Labels:    []string{"Not at all", "Completely"},
				},
				{
					ID:        "dc-3",
					Kind:      QuestionSlider,
					Prompt:    "Head or heart?",
					Positions: 6,
					Labels:    []string{"Head", "Heart"},
				},
			},
		},
	}
}

func (d *builtinDecks) QuestionSet(ref string) ([]Question, bool) {
	qs, ok := d.sets[ref]
	return qs, ok
}
