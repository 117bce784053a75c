package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDecks struct{}

func (stubDecks) QuestionSet(ref string) ([]Question, bool) {
	if ref != "duo" {
		return nil, false
	}
	return []Question{
		{
			ID:      "q1",
			Kind:    QuestionChoice,
			Prompt:  "Pick one.",
			Options: []Option{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		},
		{
			ID:        "q2",
			Kind:      QuestionSlider,
			Prompt:    "Slide it.",
			Positions: 6,
		},
	}, true
}

func newTestRoom() (*Room, *Config) {
	return newRoom("test-room", stubDecks{}, nil), &Config{narrativeTimeout: time.Second}
}

func join(r *Room, cfg *Config, id string) *Client {
	c := &Client{send: make(chan any, 256), id: id}
	r.handleRegister(cfg, c)
	return c
}

func say(r *Room, cfg *Config, c *Client, msg ClientMessage) {
	r.dispatch(cfg, eventEnvelope{client: c, msg: msg})
}

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func messagesOf[T any](msgs []any) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func joinMany(r *Room, cfg *Config, n int) []*Client {
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = join(r, cfg, fmt.Sprintf("p%d", i+1))
	}
	return clients
}

func toAnswering(t *testing.T, r *Room, cfg *Config, clients []*Client) {
	t.Helper()

	say(r, cfg, clients[0], ClientMessage{Type: "configure_lobby", Deck: "duo"})
	say(r, cfg, clients[0], ClientMessage{Type: "start_game"})
	require.Equal(t, PhaseIntro, r.phase)

	for _, c := range clients {
		say(r, cfg, c, ClientMessage{Type: "intro_ready"})
	}
	require.Equal(t, PhaseAnswering, r.phase)
}

func toResults(t *testing.T, r *Room, cfg *Config, clients []*Client) {
	t.Helper()

	toAnswering(t, r, cfg, clients)
	for _, c := range clients {
		say(r, cfg, c, ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "a"})
	}
	for _, c := range clients {
		say(r, cfg, c, ClientMessage{Type: "slider_answer", QuestionID: "q2", Value: 2})
	}
	require.Equal(t, PhaseResults, r.phase)
}

func TestConfigureFirstWins(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)

	say(r, cfg, clients[0], ClientMessage{Type: "configure_lobby", Deck: "duo"})
	assert.Equal(t, "duo", r.deckRef)
	assert.Equal(t, clients[0].id, r.hostID)

	say(r, cfg, clients[1], ClientMessage{Type: "configure_lobby", Deck: "duo"})
	assert.Equal(t, clients[0].id, r.hostID, "second configuration is ignored")
}

func TestConfigureUnknownDeckIgnored(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)

	say(r, cfg, clients[0], ClientMessage{Type: "configure_lobby", Deck: "missing"})
	assert.Empty(t, r.deckRef)
	assert.Empty(t, r.hostID)
}

func TestStartRequiresTwoParticipants(t *testing.T) {
	r, cfg := newTestRoom()
	host := join(r, cfg, "p1")

	say(r, cfg, host, ClientMessage{Type: "configure_lobby", Deck: "duo"})
	say(r, cfg, host, ClientMessage{Type: "start_game"})

	assert.Equal(t, PhaseLobby, r.phase, "single participant cannot start")
}

func TestStartRequiresHost(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 3)

	say(r, cfg, clients[0], ClientMessage{Type: "configure_lobby", Deck: "duo"})
	say(r, cfg, clients[1], ClientMessage{Type: "start_game"})

	assert.Equal(t, PhaseLobby, r.phase, "non-host start is rejected")
}

func TestStartRequiresConfiguration(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)

	say(r, cfg, clients[0], ClientMessage{Type: "start_game"})
	assert.Equal(t, PhaseLobby, r.phase)
}

func TestIntroQuorumAtThreeQuarters(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 4)

	say(r, cfg, clients[0], ClientMessage{Type: "configure_lobby", Deck: "duo"})
	say(r, cfg, clients[0], ClientMessage{Type: "start_game"})
	require.Equal(t, PhaseIntro, r.phase)

	say(r, cfg, clients[0], ClientMessage{Type: "intro_ready"})
	say(r, cfg, clients[1], ClientMessage{Type: "intro_ready"})
	assert.Equal(t, PhaseIntro, r.phase, "2/4 ready is below quorum")

	say(r, cfg, clients[2], ClientMessage{Type: "intro_ready"})
	assert.Equal(t, PhaseAnswering, r.phase, "3/4 ready meets quorum")
	assert.Equal(t, 0, r.currentQuestion)
}

func TestAnswerAdvancesOnlyWhenAllAnswered(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 4)
	toAnswering(t, r, cfg, clients)

	for _, c := range clients[:3] {
		say(r, cfg, c, ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "b"})
		assert.Equal(t, 0, r.currentQuestion, "must not advance before the last answer")
	}

	say(r, cfg, clients[3], ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "c"})
	assert.Equal(t, 1, r.currentQuestion, "advances exactly on the 4th answer")
}

func TestDuplicateAnswerIsNoOp(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 3)
	toAnswering(t, r, cfg, clients)

	say(r, cfg, clients[0], ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "a"})
	drain(clients[1])

	say(r, cfg, clients[0], ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "d"})

	p := r.participants[clients[0].id]
	assert.Equal(t, ChoiceValue{AnswerID: "a"}, p.Answers["q1"].Value, "stored record unchanged")

	answered := messagesOf[PlayerAnsweredMessage](drain(clients[1]))
	assert.Empty(t, answered, "no second answered broadcast")
}

func TestAnsweredBroadcastOmitsContent(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toAnswering(t, r, cfg, clients)
	drain(clients[1])

	say(r, cfg, clients[0], ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "a"})

	answered := messagesOf[PlayerAnsweredMessage](drain(clients[1]))
	require.Len(t, answered, 1)
	assert.Equal(t, r.participants[clients[0].id].Name, answered[0].Name)
	assert.Equal(t, "q1", answered[0].QuestionID)
}

func TestMalformedAnswersDropped(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toAnswering(t, r, cfg, clients)

	say(r, cfg, clients[0], ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "zz"})
	say(r, cfg, clients[0], ClientMessage{Type: "slider_answer", QuestionID: "q2", Value: 6})
	say(r, cfg, clients[0], ClientMessage{Type: "slider_answer", QuestionID: "q1", Value: 1})
	say(r, cfg, clients[0], ClientMessage{Type: "choice_answer", QuestionID: "nope", AnswerID: "a"})

	assert.Empty(t, r.participants[clients[0].id].Answers)
}

func TestDisconnectUnblocksAdvance(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 3)
	toAnswering(t, r, cfg, clients)

	say(r, cfg, clients[0], ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "a"})
	say(r, cfg, clients[1], ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "a"})
	require.Equal(t, 0, r.currentQuestion)

	r.handleUnregister(cfg, clients[2])
	assert.Equal(t, 1, r.currentQuestion, "departure of the only holdout advances the question")
}

func TestPhaseSequenceNeverSkips(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)

	want := []Phase{PhaseLobby, PhaseIntro, PhaseAnswering, PhaseResults, PhaseReveal}
	observed := []Phase{r.phase}
	record := func() {
		if observed[len(observed)-1] != r.phase {
			observed = append(observed, r.phase)
		}
	}

	say(r, cfg, clients[0], ClientMessage{Type: "configure_lobby", Deck: "duo"})
	say(r, cfg, clients[0], ClientMessage{Type: "start_game"})
	record()
	for _, c := range clients {
		say(r, cfg, c, ClientMessage{Type: "intro_ready"})
		record()
	}
	for _, c := range clients {
		say(r, cfg, c, ClientMessage{Type: "choice_answer", QuestionID: "q1", AnswerID: "a"})
		record()
	}
	for _, c := range clients {
		say(r, cfg, c, ClientMessage{Type: "slider_answer", QuestionID: "q2", Value: 5})
		record()
	}
	say(r, cfg, clients[0], ClientMessage{Type: "transition_to_reveal"})
	record()

	assert.Equal(t, want, observed)
}

func TestResultsPushedPerViewer(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 3)
	for _, c := range clients {
		drain(c)
	}

	toResults(t, r, cfg, clients)

	for _, c := range clients {
		results := messagesOf[ResultsMessage](drain(c))
		require.NotEmpty(t, results, "every viewer gets a results push")
		last := results[len(results)-1]
		assert.Len(t, last.Entries, 2, "feed excludes the viewer")
		for i, e := range last.Entries {
			assert.Equal(t, i+1, e.Rank)
			assert.NotEqual(t, c.id, e.PartnerID)
		}
	}
}

func TestResultsQuorumTransitionsToReveal(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 4)
	toResults(t, r, cfg, clients)

	say(r, cfg, clients[0], ClientMessage{Type: "player_ready"})
	say(r, cfg, clients[1], ClientMessage{Type: "player_ready"})
	assert.Equal(t, PhaseResults, r.phase)

	say(r, cfg, clients[2], ClientMessage{Type: "player_ready"})
	assert.Equal(t, PhaseReveal, r.phase)
}

func TestExplicitContinueFromResults(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toResults(t, r, cfg, clients)

	say(r, cfg, clients[1], ClientMessage{Type: "transition_to_reveal"})
	assert.Equal(t, PhaseReveal, r.phase)
}

func TestContinueOutsideResultsIgnored(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)

	say(r, cfg, clients[0], ClientMessage{Type: "transition_to_reveal"})
	assert.Equal(t, PhaseLobby, r.phase)
}

func TestMutualRevealOpensOneChat(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toResults(t, r, cfg, clients)
	for _, c := range clients {
		drain(c)
	}

	// Both sides request twice in rapid succession.
	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})
	say(r, cfg, clients[1], ClientMessage{Type: "reveal_request", TargetID: clients[0].id})
	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})
	say(r, cfg, clients[1], ClientMessage{Type: "reveal_request", TargetID: clients[0].id})

	started0 := messagesOf[ChatStartedMessage](drain(clients[0]))
	started1 := messagesOf[ChatStartedMessage](drain(clients[1]))
	require.Len(t, started0, 1, "exactly one session per mutual pair")
	require.Len(t, started1, 1)

	assert.Equal(t, started0[0].ChatID, started1[0].ChatID)
	assert.Equal(t, clients[1].id, started0[0].Partner.ID, "partner identity disclosed on mutual reveal")
	assert.Equal(t, clients[0].id, started1[0].Partner.ID)
}

func TestRevealPendingAndNotification(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	for _, c := range clients {
		drain(c)
	}

	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})

	pending := messagesOf[RevealPendingMessage](drain(clients[0]))
	require.Len(t, pending, 1)
	assert.Equal(t, clients[1].id, pending[0].TargetID)

	banners := messagesOf[RevealNotificationMessage](drain(clients[1]))
	assert.Len(t, banners, 1, "target sees an anonymous banner")
}

func TestChatDeliveryAndRateLimit(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 3)

	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})
	say(r, cfg, clients[1], ClientMessage{Type: "reveal_request", TargetID: clients[0].id})
	chatID := pairKey(clients[0].id, clients[1].id)
	for _, c := range clients {
		drain(c)
	}

	for i := 0; i < 11; i++ {
		say(r, cfg, clients[0], ClientMessage{Type: "chat_send", ChatID: chatID, Text: fmt.Sprintf("hello %d", i)})
	}

	received := messagesOf[ChatTextMessage](drain(clients[1]))
	assert.Len(t, received, 10, "the 11th message in the window drops")

	bystander := messagesOf[ChatTextMessage](drain(clients[2]))
	assert.Empty(t, bystander, "chat is never broadcast room-wide")
}

func TestChatRejectsEmptyAndOutsiders(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 3)

	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})
	say(r, cfg, clients[1], ClientMessage{Type: "reveal_request", TargetID: clients[0].id})
	chatID := pairKey(clients[0].id, clients[1].id)
	for _, c := range clients {
		drain(c)
	}

	say(r, cfg, clients[0], ClientMessage{Type: "chat_send", ChatID: chatID, Text: "   "})
	say(r, cfg, clients[2], ClientMessage{Type: "chat_send", ChatID: chatID, Text: "let me in"})

	assert.Empty(t, messagesOf[ChatTextMessage](drain(clients[1])))
}

func TestChatCloseNotifiesBothAndBlocksReopen(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)

	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})
	say(r, cfg, clients[1], ClientMessage{Type: "reveal_request", TargetID: clients[0].id})
	chatID := pairKey(clients[0].id, clients[1].id)
	for _, c := range clients {
		drain(c)
	}

	say(r, cfg, clients[1], ClientMessage{Type: "chat_close", ChatID: chatID})

	for _, c := range clients {
		closed := messagesOf[ChatClosedMessage](drain(c))
		require.Len(t, closed, 1)
		assert.Equal(t, chatID, closed[0].ChatID)
	}

	// Re-requesting after a close never re-opens.
	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})
	say(r, cfg, clients[1], ClientMessage{Type: "reveal_request", TargetID: clients[0].id})
	assert.Empty(t, messagesOf[ChatStartedMessage](drain(clients[0])))
	assert.Empty(t, messagesOf[ChatStartedMessage](drain(clients[1])))
}

func TestDisconnectClosesChat(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)

	say(r, cfg, clients[0], ClientMessage{Type: "reveal_request", TargetID: clients[1].id})
	say(r, cfg, clients[1], ClientMessage{Type: "reveal_request", TargetID: clients[0].id})
	chatID := pairKey(clients[0].id, clients[1].id)
	drain(clients[0])

	r.handleUnregister(cfg, clients[1])

	closed := messagesOf[ChatClosedMessage](drain(clients[0]))
	require.Len(t, closed, 1)
	assert.Equal(t, chatID, closed[0].ChatID)
	assert.Empty(t, r.reveals.chats)
}

func TestNudgeFlow(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	for _, c := range clients {
		drain(c)
	}

	say(r, cfg, clients[0], ClientMessage{Type: "nudge", TargetID: clients[1].id})

	status := messagesOf[NudgeStatusMessage](drain(clients[0]))
	require.Len(t, status, 1)
	assert.True(t, status[0].Accepted)

	received := messagesOf[NudgeReceivedMessage](drain(clients[1]))
	require.Len(t, received, 1)
	assert.Equal(t, clients[0].id, received[0].From.ID)

	// Second nudge inside the cooldown is refused with a countdown.
	say(r, cfg, clients[0], ClientMessage{Type: "nudge", TargetID: clients[1].id})
	status = messagesOf[NudgeStatusMessage](drain(clients[0]))
	require.Len(t, status, 1)
	assert.False(t, status[0].Accepted)
	assert.Greater(t, status[0].RemainingSeconds, 0)
}

func TestSelfNudgeAndUnknownTargetDropped(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	for _, c := range clients {
		drain(c)
	}

	say(r, cfg, clients[0], ClientMessage{Type: "nudge", TargetID: clients[0].id})
	say(r, cfg, clients[0], ClientMessage{Type: "nudge", TargetID: "ghost"})

	assert.Empty(t, messagesOf[NudgeStatusMessage](drain(clients[0])))
}

func TestNarrativeBroadcastAndReasons(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toResults(t, r, cfg, clients)

	require.True(t, r.narrativeInFlight)

	res := <-r.narrativeDone
	for _, c := range clients {
		drain(c)
	}
	r.handleNarrativeDone(res)

	require.NotNil(t, r.narrative)
	assert.False(t, r.narrativeInFlight)

	for _, c := range clients {
		msgs := drain(c)

		narratives := messagesOf[NarrativeMessage](msgs)
		require.Len(t, narratives, 1)
		assert.NotEmpty(t, narratives[0].Summary)

		results := messagesOf[ResultsMessage](msgs)
		require.Len(t, results, 1)
		assert.NotEmpty(t, results[0].Entries[0].Reason, "results re-pushed with pair reasons")
	}
}

func TestStaleNarrativeDiscarded(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toResults(t, r, cfg, clients)

	res := <-r.narrativeDone

	// A reset bumps the generation before the result lands.
	r.generation++
	for _, c := range clients {
		drain(c)
	}
	r.handleNarrativeDone(res)

	assert.Nil(t, r.narrative)
	for _, c := range clients {
		assert.Empty(t, messagesOf[NarrativeMessage](drain(c)))
	}
}

func TestNarrativeTriggeredOncePerTransition(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toResults(t, r, cfg, clients)

	res := <-r.narrativeDone

	// Concurrent triggers while one is outstanding collapse into it.
	r.maybeRequestNarrative(cfg)
	r.maybeRequestNarrative(cfg)

	r.handleNarrativeDone(res)

	select {
	case extra := <-r.narrativeDone:
		t.Fatalf("unexpected duplicate narrative result: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLateJoinerStateSync(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toResults(t, r, cfg, clients)

	res := <-r.narrativeDone
	r.handleNarrativeDone(res)

	late := join(r, cfg, "late")

	syncs := messagesOf[StateSyncMessage](drain(late))
	require.Len(t, syncs, 1)

	sync := syncs[0]
	assert.Equal(t, PhaseResults, sync.Phase)
	assert.Equal(t, "duo", sync.Deck)
	assert.Len(t, sync.Participants, 3)
	assert.Len(t, sync.Results, 2, "late joiner gets a freshly scored feed")
	assert.NotEmpty(t, sync.Narrative)
	assert.Equal(t, "late", sync.You.ID)
}

func TestStartGameResetsState(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 2)
	toResults(t, r, cfg, clients)

	res := <-r.narrativeDone
	r.handleNarrativeDone(res)
	require.NotNil(t, r.narrative)

	// The phase machine has no backward transitions, so exercise the
	// reset path directly the way a fresh lobby would.
	r.phase = PhaseLobby
	say(r, cfg, clients[0], ClientMessage{Type: "start_game"})

	assert.Equal(t, PhaseIntro, r.phase)
	assert.Nil(t, r.narrative)
	assert.Empty(t, r.introReady)
	assert.Empty(t, r.resultsReady)
	assert.Equal(t, 0, r.currentQuestion)
	for _, p := range r.participants {
		assert.Empty(t, p.Answers)
	}
}

func TestJoinAssignsDistinctColors(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 12)

	seen := make(map[string]bool)
	for _, c := range clients {
		p := r.participants[c.id]
		require.NotEmpty(t, p.Color)
		assert.False(t, seen[p.Color], "color %q assigned twice", p.Color)
		seen[p.Color] = true
	}
}

func TestCursorPassThrough(t *testing.T) {
	r, cfg := newTestRoom()
	clients := joinMany(r, cfg, 3)
	for _, c := range clients {
		drain(c)
	}

	say(r, cfg, clients[0], ClientMessage{Type: "cursor", Cursor: []byte(`{"x":1,"y":2}`)})

	assert.Empty(t, messagesOf[CursorMessage](drain(clients[0])), "sender does not echo")
	for _, c := range clients[1:] {
		cursors := messagesOf[CursorMessage](drain(c))
		require.Len(t, cursors, 1)
		assert.Equal(t, clients[0].id, cursors[0].FromID)
	}
}
