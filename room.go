// Matchbox room coordinator
//
// One Room per game session, driven as a single-threaded actor: every
// connect, disconnect, and client event is funneled through channels into
// run(), so game state needs no locking. Players move through a fixed
// phase sequence:
//
//	LOBBY → INTRO → ANSWERING → RESULTS → REVEAL
//
// - LOBBY: first configuration wins and marks the sender as host; only the
//   host may start, and only with two or more players connected
// - INTRO: players ready up; 75% readiness starts the questions
// - ANSWERING: first answer per question wins; the index advances when every
//   connected player has answered (disconnects can unblock it)
// - RESULTS: per-viewer compatibility rankings, plus an async narrative
//   generated once per transition with a local fallback
// - REVEAL: mutual-consent identity reveals open rate-limited two-party chats
//
// Malformed and out-of-phase commands are dropped without a reply.

package main

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type Phase string

const (
	PhaseLobby     Phase = "LOBBY"
	PhaseIntro     Phase = "INTRO"
	PhaseAnswering Phase = "ANSWERING"
	PhaseResults   Phase = "RESULTS"
	PhaseReveal    Phase = "REVEAL"
)

// readyQuorum is the readiness fraction that auto-advances INTRO→ANSWERING
// and RESULTS→REVEAL.
const readyQuorum = 0.75

type eventEnvelope struct {
	client *Client
	msg    ClientMessage
}

type narrativeResult struct {
	generation int
	narrative  Narrative
}

type Room struct {
	id string

	clients      map[*Client]bool
	participants map[string]*Participant

	phase           Phase
	deckRef         string
	hostID          string
	questions       []Question
	currentQuestion int

	introReady   map[string]struct{}
	resultsReady map[string]struct{}

	ledger  *answerLedger
	reveals *revealCoordinator
	nudges  *nudgeLimiter

	// narrative holds the cached result for late joiners; the in-flight
	// flag collapses concurrent triggers and the generation counter
	// discards results that outlive a reset.
	narrative         *Narrative
	narrativeInFlight bool
	generation        int

	decks     DeckProvider
	generator NarrativeGenerator

	register      chan *Client
	unreg         chan *Client
	events        chan eventEnvelope
	narrativeDone chan narrativeResult
	done          chan struct{}

	mu         sync.RWMutex // guards createdAt/lastActive for the reaper
	createdAt  time.Time
	lastActive time.Time
}

func newRoom(roomID string, decks DeckProvider, generator NarrativeGenerator) *Room {
	now := time.Now()
	return &Room{
		id:            roomID,
		clients:       make(map[*Client]bool),
		participants:  make(map[string]*Participant),
		phase:         PhaseLobby,
		introReady:    make(map[string]struct{}),
		resultsReady:  make(map[string]struct{}),
		ledger:        newAnswerLedger(),
		reveals:       newRevealCoordinator(),
		nudges:        newNudgeLimiter(),
		decks:         decks,
		generator:     generator,
		register:      make(chan *Client),
		unreg:         make(chan *Client),
		events:        make(chan eventEnvelope, 64),
		narrativeDone: make(chan narrativeResult, 1),
		done:          make(chan struct{}),
		createdAt:     now,
		lastActive:    now,
	}
}

func (r *Room) run(cfg *Config) {
	for {
		select {
		case c := <-r.register:
			r.touch()
			r.handleRegister(cfg, c)

		case c := <-r.unreg:
			r.touch()
			r.handleUnregister(cfg, c)

		case ev := <-r.events:
			r.touch()
			r.dispatch(cfg, ev)

		case res := <-r.narrativeDone:
			r.handleNarrativeDone(res)

		case <-r.done:
			r.closeAllClients()
			return
		}
	}
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) lastActiveAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActive
}

// shutdown stops the actor loop; used by the manager's reaper.
func (r *Room) shutdown() {
	close(r.done)
}

func (r *Room) closeAllClients() {
	for c := range r.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(r.clients, c)
	}
}

// ---- delivery helpers ----

// sendTo drops the client when its send buffer is full, matching the
// fire-and-forget delivery model: one slow connection never stalls the room.
func (r *Room) sendTo(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(r.clients, c)
		close(c.send)
	}
}

func (r *Room) sendToParticipant(participantID string, msg any) {
	for c := range r.clients {
		if c.id == participantID {
			r.sendTo(c, msg)
			return
		}
	}
}

func (r *Room) broadcast(msg any) {
	for c := range r.clients {
		r.sendTo(c, msg)
	}
}

func (r *Room) broadcastExcept(sender *Client, msg any) {
	for c := range r.clients {
		if c == sender {
			continue
		}
		r.sendTo(c, msg)
	}
}

// ---- connection lifecycle ----

func (r *Room) handleRegister(cfg *Config, c *Client) {
	used := make(map[string]bool, len(r.participants))
	for _, p := range r.participants {
		used[strings.ToLower(p.Color)] = true
	}

	name, color := allocateIdentity(used)
	p := newParticipant(c.id, name, color)

	r.clients[c] = true
	r.participants[c.id] = p

	logf(cfg, "ROOMS: %q joined %s as %q", c.id, r.id, name)

	r.sendTo(c, r.stateSyncFor(p))
	r.broadcastExcept(c, PresenceMessage{Type: "joined", Participant: participantInfo(p)})
}

func (r *Room) handleUnregister(cfg *Config, c *Client) {
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}

	p, ok := r.participants[c.id]
	if !ok {
		return
	}
	delete(r.participants, c.id)
	delete(r.introReady, c.id)
	delete(r.resultsReady, c.id)

	// Either party leaving tears down their chats.
	for _, s := range r.reveals.closeFor(c.id) {
		if partner, ok := s.partner(c.id); ok {
			r.sendToParticipant(partner, ChatClosedMessage{Type: "chat_closed", ChatID: s.ID})
		}
	}

	logf(cfg, "ROOMS: %q left %s", p.Name, r.id)

	r.broadcast(PresenceMessage{Type: "left", Participant: participantInfo(p)})

	// A departure can unblock question advancement or a readiness quorum.
	switch r.phase {
	case PhaseAnswering:
		r.checkAllAnswered(cfg)
	case PhaseIntro:
		if r.quorumMet(len(r.introReady)) {
			r.startAnswering(cfg)
		}
	case PhaseResults:
		if r.quorumMet(len(r.resultsReady)) {
			r.enterReveal(cfg)
		}
	}
}

// ---- event dispatch ----

func (r *Room) dispatch(cfg *Config, ev eventEnvelope) {
	c, msg := ev.client, ev.msg

	if _, ok := r.participants[c.id]; !ok {
		return
	}

	switch msg.Type {
	case "configure_lobby":
		r.handleConfigure(cfg, c, msg)
	case "start_game":
		r.handleStart(cfg, c)
	case "intro_ready":
		r.handleIntroReady(cfg, c)
	case "choice_answer":
		r.handleAnswer(cfg, c, msg, QuestionChoice)
	case "slider_answer":
		r.handleAnswer(cfg, c, msg, QuestionSlider)
	case "player_ready":
		r.handlePlayerReady(cfg, c)
	case "transition_to_reveal":
		r.handleContinue(cfg)
	case "reveal_request":
		r.handleReveal(c, msg)
	case "nudge":
		r.handleNudge(c, msg)
	case "chat_send":
		r.handleChatSend(c, msg)
	case "chat_close":
		r.handleChatClose(c, msg)
	case "cursor":
		r.broadcastExcept(c, CursorMessage{Type: "cursor", FromID: c.id, Cursor: msg.Cursor})
	}
}

// ---- lobby ----

func (r *Room) handleConfigure(cfg *Config, c *Client, msg ClientMessage) {
	if r.phase != PhaseLobby || r.deckRef != "" || msg.Deck == "" {
		return
	}

	questions, ok := r.decks.QuestionSet(msg.Deck)
	if !ok {
		return
	}

	r.deckRef = msg.Deck
	r.questions = questions
	r.hostID = c.id
	r.currentQuestion = 0

	logf(cfg, "ROOMS: %s configured with deck %q by %q", r.id, msg.Deck, c.id)

	// Reconfiguration resynchronizes everyone.
	for client := range r.clients {
		if p, ok := r.participants[client.id]; ok {
			r.sendTo(client, r.stateSyncFor(p))
		}
	}
}

func (r *Room) handleStart(cfg *Config, c *Client) {
	if r.phase != PhaseLobby || c.id != r.hostID || r.deckRef == "" {
		return
	}
	if len(r.participants) < 2 {
		return
	}

	// Clear all prior game state before the new run.
	for _, p := range r.participants {
		p.Answers = make(map[string]AnswerRecord)
	}
	r.ledger.reset()
	r.introReady = make(map[string]struct{})
	r.resultsReady = make(map[string]struct{})
	r.narrative = nil
	r.narrativeInFlight = false
	r.generation++
	r.currentQuestion = 0

	r.phase = PhaseIntro
	logf(cfg, "ROOMS: %s started by host %q", r.id, c.id)
	r.broadcast(PhaseChangeMessage{Type: "phase_change", Phase: r.phase})
}

// ---- intro ----

func (r *Room) handleIntroReady(cfg *Config, c *Client) {
	if r.phase != PhaseIntro {
		return
	}

	r.introReady[c.id] = struct{}{}
	r.broadcast(ReadyTallyMessage{Type: "ready_tally", Ready: len(r.introReady), Connected: len(r.participants)})

	if r.quorumMet(len(r.introReady)) {
		r.startAnswering(cfg)
	}
}

func (r *Room) quorumMet(ready int) bool {
	if len(r.participants) == 0 {
		return false
	}
	return float64(ready)/float64(len(r.participants)) >= readyQuorum
}

func (r *Room) startAnswering(cfg *Config) {
	if len(r.questions) == 0 {
		return
	}

	// Record the first question's start time before the phase flips, so a
	// fast answer cannot arrive ahead of the timer.
	r.currentQuestion = 0
	r.ledger.markShown(r.questions[0].ID, time.Now())
	r.phase = PhaseAnswering

	logf(cfg, "ROOMS: %s answering started", r.id)

	r.broadcast(PhaseChangeMessage{Type: "phase_change", Phase: r.phase})
	r.broadcast(QuestionAdvanceMessage{Type: "question_advance", Index: 0, Question: r.questions[0]})
}

// ---- answering ----

func (r *Room) handleAnswer(cfg *Config, c *Client, msg ClientMessage, kind QuestionKind) {
	if r.phase != PhaseAnswering {
		return
	}

	p := r.participants[c.id]

	q, ok := r.questionByID(msg.QuestionID)
	if !ok || q.Kind != kind {
		return
	}

	var value AnswerValue
	switch kind {
	case QuestionChoice:
		if !validOption(q, msg.AnswerID) {
			return
		}
		value = ChoiceValue{AnswerID: msg.AnswerID}
	case QuestionSlider:
		if msg.Value < 0 || msg.Value >= max(q.Positions, 1) {
			return
		}
		value = SliderValue{Position: msg.Value}
	}

	if _, accepted := r.ledger.submit(p, q.ID, value, time.Now()); !accepted {
		return
	}

	// Only the fact of answering goes out; never the content.
	r.broadcast(PlayerAnsweredMessage{Type: "player_answered", Name: p.Name, QuestionID: q.ID})

	r.checkAllAnswered(cfg)
}

func (r *Room) questionByID(id string) (Question, bool) {
	for _, q := range r.questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

func validOption(q Question, answerID string) bool {
	for _, opt := range q.Options {
		if opt.ID == answerID {
			return true
		}
	}
	return false
}

// checkAllAnswered advances the question index once every connected
// participant holds a record for the current question.
func (r *Room) checkAllAnswered(cfg *Config) {
	if r.phase != PhaseAnswering || r.currentQuestion >= len(r.questions) || len(r.participants) == 0 {
		return
	}

	qid := r.questions[r.currentQuestion].ID
	for _, p := range r.participants {
		if !p.answered(qid) {
			return
		}
	}

	r.currentQuestion++

	if r.currentQuestion < len(r.questions) {
		next := r.questions[r.currentQuestion]
		r.ledger.markShown(next.ID, time.Now())
		r.broadcast(QuestionAdvanceMessage{Type: "question_advance", Index: r.currentQuestion, Question: next})
		return
	}

	r.enterResults(cfg)
}

// ---- results ----

func (r *Room) enterResults(cfg *Config) {
	r.phase = PhaseResults
	r.resultsReady = make(map[string]struct{})

	logf(cfg, "ROOMS: %s entering results", r.id)

	r.broadcast(PhaseChangeMessage{Type: "phase_change", Phase: r.phase})
	r.pushResults()
	r.maybeRequestNarrative(cfg)
}

func (r *Room) pushResults() {
	others := r.orderedParticipants()

	for c := range r.clients {
		p, ok := r.participants[c.id]
		if !ok {
			continue
		}
		r.sendTo(c, ResultsMessage{Type: "results", Entries: r.resultsFor(p, others)})
	}
}

func (r *Room) resultsFor(viewer *Participant, others []*Participant) []ResultEntry {
	entries := rankFor(viewer, others, r.questions)

	if r.narrative != nil {
		for i := range entries {
			if reason, ok := r.narrative.Reasons[pairKey(viewer.ID, entries[i].PartnerID)]; ok {
				entries[i].Reason = reason
			}
		}
	}

	return entries
}

func (r *Room) orderedParticipants() []*Participant {
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.participants[id])
	}
	return out
}

func (r *Room) handlePlayerReady(cfg *Config, c *Client) {
	if r.phase != PhaseResults {
		return
	}

	r.resultsReady[c.id] = struct{}{}
	r.broadcast(ReadyTallyMessage{Type: "ready_tally", Ready: len(r.resultsReady), Connected: len(r.participants)})

	if r.quorumMet(len(r.resultsReady)) {
		r.enterReveal(cfg)
	}
}

// handleContinue transitions unconditionally from RESULTS.
func (r *Room) handleContinue(cfg *Config) {
	if r.phase != PhaseResults {
		return
	}
	r.enterReveal(cfg)
}

func (r *Room) enterReveal(cfg *Config) {
	r.phase = PhaseReveal
	logf(cfg, "ROOMS: %s entering reveal", r.id)
	r.broadcast(PhaseChangeMessage{Type: "phase_change", Phase: r.phase})
}

// ---- reveal / chat ----

func (r *Room) handleReveal(c *Client, msg ClientMessage) {
	target, ok := r.participants[msg.TargetID]
	if !ok || msg.TargetID == c.id {
		return
	}

	mutual, session := r.reveals.request(c.id, msg.TargetID, time.Now())

	// The banner stays anonymous and repeats on every request.
	r.sendToParticipant(msg.TargetID, RevealNotificationMessage{Type: "reveal_notification"})

	if session != nil {
		requester := r.participants[c.id]
		r.sendToParticipant(session.A, ChatStartedMessage{
			Type:      "chat_started",
			ChatID:    session.ID,
			Partner:   participantInfo(r.pickPartner(session, session.A, requester, target)),
			StartedAt: session.StartedAt,
		})
		r.sendToParticipant(session.B, ChatStartedMessage{
			Type:      "chat_started",
			ChatID:    session.ID,
			Partner:   participantInfo(r.pickPartner(session, session.B, requester, target)),
			StartedAt: session.StartedAt,
		})
		return
	}

	if !mutual {
		r.sendTo(c, RevealPendingMessage{Type: "reveal_pending", TargetID: msg.TargetID})
	}
}

func (r *Room) pickPartner(s *ChatSession, viewer string, a, b *Participant) *Participant {
	partnerID, _ := s.partner(viewer)
	if a.ID == partnerID {
		return a
	}
	return b
}

func (r *Room) handleChatSend(c *Client, msg ClientMessage) {
	s, ok := r.reveals.session(msg.ChatID)
	if !ok || !s.member(c.id) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if !s.allow(c.id, time.Now()) {
		return
	}

	p := r.participants[c.id]
	partner, _ := s.partner(c.id)

	r.sendToParticipant(partner, ChatTextMessage{
		Type:     "chat_message",
		ChatID:   s.ID,
		FromID:   p.ID,
		FromName: p.Name,
		Text:     text,
	})
}

func (r *Room) handleChatClose(c *Client, msg ClientMessage) {
	s, ok := r.reveals.session(msg.ChatID)
	if !ok || !s.member(c.id) {
		return
	}

	r.reveals.close(s.ID)

	closed := ChatClosedMessage{Type: "chat_closed", ChatID: s.ID}
	r.sendToParticipant(s.A, closed)
	r.sendToParticipant(s.B, closed)
}

// ---- nudges ----

func (r *Room) handleNudge(c *Client, msg ClientMessage) {
	target, ok := r.participants[msg.TargetID]
	if !ok || msg.TargetID == c.id {
		return
	}

	allowed, remaining := r.nudges.attempt(c.id, msg.TargetID, time.Now())
	if !allowed {
		r.sendTo(c, NudgeStatusMessage{
			Type:             "nudge_status",
			Accepted:         false,
			RemainingSeconds: int(math.Ceil(remaining.Seconds())),
		})
		return
	}

	r.sendTo(c, NudgeStatusMessage{Type: "nudge_status", Accepted: true})
	r.sendToParticipant(target.ID, NudgeReceivedMessage{
		Type: "nudge_received",
		From: participantInfo(r.participants[c.id]),
	})
}

// ---- narrative ----

func (r *Room) maybeRequestNarrative(cfg *Config) {
	if r.narrativeInFlight || r.narrative != nil {
		return
	}

	r.narrativeInFlight = true
	gen := r.generation
	stats := r.collectStats()
	generator := r.generator

	go func() {
		n := produceNarrative(cfg, generator, stats)
		select {
		case r.narrativeDone <- narrativeResult{generation: gen, narrative: n}:
		case <-r.done:
		}
	}()
}

// produceNarrative runs outside the actor loop: upstream call first, local
// fallback on failure, and an empty result if the fallback itself panics so
// clients can stop waiting.
func produceNarrative(cfg *Config, generator NarrativeGenerator, stats AnswerStats) (n Narrative) {
	defer func() {
		if rec := recover(); rec != nil {
			zlog.Error().Interface("panic", rec).Msg("narrative fallback failed")
			n = Narrative{}
		}
	}()

	if generator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.narrativeTimeout)
		defer cancel()

		generated, err := generator.Generate(ctx, stats)
		if err == nil {
			return generated
		}
		logErr("narrative generation failed, using fallback", err)
	}

	return fallbackNarrative(stats)
}

func (r *Room) handleNarrativeDone(res narrativeResult) {
	// A reset bumped the generation; this result is no longer relevant.
	if res.generation != r.generation {
		return
	}
	r.narrativeInFlight = false

	if r.phase != PhaseResults && r.phase != PhaseReveal {
		return
	}

	n := res.narrative
	r.narrative = &n

	r.broadcast(NarrativeMessage{Type: "narrative", Summary: n.Summary})
	r.pushResults()
}

func (r *Room) collectStats() AnswerStats {
	stats := AnswerStats{
		Participants: len(r.participants),
		Questions:    len(r.questions),
		PairScores:   make(map[string]float64),
		PairNames:    make(map[string]string),
	}

	ordered := r.orderedParticipants()
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, b := ordered[i], ordered[j]
			key := pairKey(a.ID, b.ID)
			score := compatibility(a, b, r.questions)

			stats.PairScores[key] = score
			stats.PairNames[key] = a.Name + " & " + b.Name

			if stats.TopPair == "" || score > stats.TopScore {
				stats.TopPair = key
				stats.TopScore = score
			}
		}
	}

	return stats
}

// ---- state sync ----

func participantInfo(p *Participant) ParticipantInfo {
	return ParticipantInfo{ID: p.ID, Name: p.Name, Color: p.Color}
}

func (r *Room) stateSyncFor(p *Participant) StateSyncMessage {
	ordered := r.orderedParticipants()

	roster := make([]ParticipantInfo, 0, len(ordered))
	for _, other := range ordered {
		roster = append(roster, participantInfo(other))
	}

	msg := StateSyncMessage{
		Type:            "state_sync",
		You:             participantInfo(p),
		Phase:           r.phase,
		Participants:    roster,
		Deck:            r.deckRef,
		Questions:       r.questions,
		CurrentQuestion: r.currentQuestion,
	}

	switch r.phase {
	case PhaseIntro:
		msg.ReadyCount = len(r.introReady)
	case PhaseResults, PhaseReveal:
		msg.ReadyCount = len(r.resultsReady)
		msg.Results = r.resultsFor(p, ordered)
	}

	if r.narrative != nil {
		msg.Narrative = r.narrative.Summary
	}

	return msg
}
