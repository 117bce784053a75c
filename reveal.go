package main

import (
	"time"
)

const (
	chatWindow      = 10 * time.Second
	chatWindowLimit = 10
)

// chatWindowState tracks one participant's message budget: a window-start
// timestamp plus an in-window counter, reset once the window has elapsed.
type chatWindowState struct {
	start time.Time
	count int
}

// ChatSession is the ephemeral two-party channel opened on mutual reveal.
// Its id is deterministic from the sorted participant-id pair.
type ChatSession struct {
	ID        string
	A         string
	B         string
	StartedAt time.Time

	windows map[string]*chatWindowState
}

func (s *ChatSession) member(id string) bool {
	return id == s.A || id == s.B
}

func (s *ChatSession) partner(id string) (string, bool) {
	switch id {
	case s.A:
		return s.B, true
	case s.B:
		return s.A, true
	}
	return "", false
}

// allow consumes one message slot for the sender, returning false when the
// sender has exhausted the current window.
func (s *ChatSession) allow(sender string, now time.Time) bool {
	w, ok := s.windows[sender]
	if !ok {
		w = &chatWindowState{start: now}
		s.windows[sender] = w
	}

	if now.Sub(w.start) > chatWindow {
		w.start = now
		w.count = 0
	}

	if w.count >= chatWindowLimit {
		return false
	}

	w.count++
	return true
}

// revealCoordinator owns the directed reveal-request graph and the chat
// sessions spawned from mutual pairs. Edges never expire; the opened set
// blocks a pair from re-creating a session after a close.
type revealCoordinator struct {
	edges  map[string]map[string]struct{}
	chats  map[string]*ChatSession
	opened map[string]struct{}
}

func newRevealCoordinator() *revealCoordinator {
	return &revealCoordinator{
		edges:  make(map[string]map[string]struct{}),
		chats:  make(map[string]*ChatSession),
		opened: make(map[string]struct{}),
	}
}

func (rc *revealCoordinator) hasEdge(from, to string) bool {
	targets, ok := rc.edges[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// request records the requester→target edge and reports mutuality. A new
// session is returned exactly once per pair; concurrent duplicate triggers
// and re-mutuality after a close both land on the opened guard.
func (rc *revealCoordinator) request(requester, target string, now time.Time) (mutual bool, session *ChatSession) {
	targets, ok := rc.edges[requester]
	if !ok {
		targets = make(map[string]struct{})
		rc.edges[requester] = targets
	}
	targets[target] = struct{}{}

	if !rc.hasEdge(target, requester) {
		return false, nil
	}

	key := pairKey(requester, target)
	if _, done := rc.opened[key]; done {
		return true, nil
	}
	rc.opened[key] = struct{}{}

	a, b := requester, target
	if a > b {
		a, b = b, a
	}

	session = &ChatSession{
		ID:        key,
		A:         a,
		B:         b,
		StartedAt: now,
		windows:   make(map[string]*chatWindowState),
	}
	rc.chats[session.ID] = session

	return true, session
}

func (rc *revealCoordinator) session(chatID string) (*ChatSession, bool) {
	s, ok := rc.chats[chatID]
	return s, ok
}

// close deletes all session state. The underlying reveal edges remain, so
// the pair cannot re-open within this room's lifetime.
func (rc *revealCoordinator) close(chatID string) (*ChatSession, bool) {
	s, ok := rc.chats[chatID]
	if !ok {
		return nil, false
	}
	delete(rc.chats, chatID)
	return s, true
}

// closeFor tears down every session the participant is part of, used from
// the connection-teardown path.
func (rc *revealCoordinator) closeFor(participantID string) []*ChatSession {
	var closed []*ChatSession
	for id, s := range rc.chats {
		if s.member(participantID) {
			delete(rc.chats, id)
			closed = append(closed, s)
		}
	}
	return closed
}
