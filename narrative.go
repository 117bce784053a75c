package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AnswerStats is the aggregate handed to the narrative generator. It never
// includes raw answers tied to identities, only pair-level derivations.
type AnswerStats struct {
	Participants int                `json:"participants"`
	Questions    int                `json:"questions"`
	PairScores   map[string]float64 `json:"pair_scores"`
	PairNames    map[string]string  `json:"pair_names"`
	TopPair      string             `json:"top_pair,omitempty"`
	TopScore     float64            `json:"top_score"`
}

// Narrative is the generated room summary plus optional per-pair reasons,
// keyed by pair key.
type Narrative struct {
	Summary string            `json:"summary"`
	Reasons map[string]string `json:"reasons,omitempty"`
}

// NarrativeGenerator is the outbound collaborator interface. Failures are
// masked by the local fallback; gameplay never blocks on it.
type NarrativeGenerator interface {
	Generate(ctx context.Context, stats AnswerStats) (Narrative, error)
}

// httpGenerator posts stats to an external text-generation service with
// bounded retry and doubling backoff under the caller's deadline.
type httpGenerator struct {
	url     string
	retries int
	client  *http.Client
}

func newHTTPGenerator(url string, retries int) *httpGenerator {
	return &httpGenerator{
		url:     url,
		retries: retries,
		client:  &http.Client{},
	}
}

func (g *httpGenerator) Generate(ctx context.Context, stats AnswerStats) (Narrative, error) {
	body, err := json.Marshal(stats)
	if err != nil {
		return Narrative{}, err
	}

	backoff := 250 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return Narrative{}, ctx.Err()
			}
		}

		n, err := g.generateOnce(ctx, body)
		if err == nil {
			return n, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Narrative{}, ctx.Err()
		}
	}

	return Narrative{}, lastErr
}

func (g *httpGenerator) generateOnce(ctx context.Context, body []byte) (Narrative, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Narrative{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Narrative{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Narrative{}, fmt.Errorf("narrative service returned %d", resp.StatusCode)
	}

	var n Narrative
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return Narrative{}, err
	}

	return n, nil
}

// fallbackNarrative derives a deterministic summary from the stats so
// clients always receive something when the upstream call fails.
func fallbackNarrative(stats AnswerStats) Narrative {
	n := Narrative{
		Reasons: make(map[string]string, len(stats.PairScores)),
	}

	switch {
	case stats.Participants < 2 || len(stats.PairScores) == 0:
		n.Summary = "Not enough players answered to find a match this round."
	case stats.TopPair != "":
		n.Summary = fmt.Sprintf("%s lead the room at %d%% compatibility across %d questions.",
			stats.PairNames[stats.TopPair], int(stats.TopScore*100), stats.Questions)
	default:
		n.Summary = fmt.Sprintf("%d players compared notes across %d questions.",
			stats.Participants, stats.Questions)
	}

	for key, score := range stats.PairScores {
		n.Reasons[key] = fmt.Sprintf("You two landed at %d%% compatibility.", int(score*100))
	}

	return n
}
