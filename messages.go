package main

import (
	"encoding/json"
	"time"
)

// ClientMessage carries every inbound event type; unused fields stay empty.
type ClientMessage struct {
	Type       string          `json:"type"`                  // see readPump for accepted values
	Deck       string          `json:"deck,omitempty"`        // configure_lobby
	QuestionID string          `json:"question_id,omitempty"` // choice_answer / slider_answer
	AnswerID   string          `json:"answer_id,omitempty"`   // choice_answer
	Value      int             `json:"value,omitempty"`       // slider_answer
	TargetID   string          `json:"target_id,omitempty"`   // reveal_request / nudge
	ChatID     string          `json:"chat_id,omitempty"`     // chat_send / chat_close
	Text       string          `json:"text,omitempty"`        // chat_send
	Cursor     json.RawMessage `json:"cursor,omitempty"`      // cursor pass-through
}

type ParticipantInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// StateSyncMessage is the full-state snapshot sent on connect and on lobby
// reconfiguration. Results and narrative are present only once reached.
type StateSyncMessage struct {
	Type            string            `json:"type"` // "state_sync"
	You             ParticipantInfo   `json:"you"`
	Phase           Phase             `json:"phase"`
	Participants    []ParticipantInfo `json:"participants"`
	Deck            string            `json:"deck,omitempty"`
	Questions       []Question        `json:"questions,omitempty"`
	CurrentQuestion int               `json:"current_question"`
	ReadyCount      int               `json:"ready_count"`
	Results         []ResultEntry     `json:"results,omitempty"`
	Narrative       string            `json:"narrative,omitempty"`
}

type PresenceMessage struct {
	Type        string          `json:"type"` // "joined" / "left"
	Participant ParticipantInfo `json:"participant"`
}

type PhaseChangeMessage struct {
	Type  string `json:"type"` // "phase_change"
	Phase Phase  `json:"phase"`
}

type QuestionAdvanceMessage struct {
	Type     string   `json:"type"` // "question_advance"
	Index    int      `json:"index"`
	Question Question `json:"question"`
}

// PlayerAnsweredMessage deliberately omits the answer content; only the
// fact of answering is public during play.
type PlayerAnsweredMessage struct {
	Type       string `json:"type"` // "player_answered"
	Name       string `json:"name"`
	QuestionID string `json:"question_id"`
}

type ReadyTallyMessage struct {
	Type      string `json:"type"` // "ready_tally"
	Ready     int    `json:"ready"`
	Connected int    `json:"connected"`
}

type ResultsMessage struct {
	Type    string        `json:"type"` // "results"
	Entries []ResultEntry `json:"entries"`
}

type NarrativeMessage struct {
	Type    string `json:"type"` // "narrative"
	Summary string `json:"summary"`
}

type RevealPendingMessage struct {
	Type     string `json:"type"` // "reveal_pending"
	TargetID string `json:"target_id"`
}

// RevealNotificationMessage is the anonymous banner shown to the target.
// Repeat requests re-send it; there is no dedup.
type RevealNotificationMessage struct {
	Type string `json:"type"` // "reveal_notification"
}

type ChatStartedMessage struct {
	Type      string          `json:"type"` // "chat_started"
	ChatID    string          `json:"chat_id"`
	Partner   ParticipantInfo `json:"partner"`
	StartedAt time.Time       `json:"started_at"`
}

type ChatTextMessage struct {
	Type     string `json:"type"` // "chat_message"
	ChatID   string `json:"chat_id"`
	FromID   string `json:"from_id"`
	FromName string `json:"from_name"`
	Text     string `json:"text"`
}

type ChatClosedMessage struct {
	Type   string `json:"type"` // "chat_closed"
	ChatID string `json:"chat_id"`
}

type NudgeStatusMessage struct {
	Type             string `json:"type"` // "nudge_status"
	Accepted         bool   `json:"accepted"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

type NudgeReceivedMessage struct {
	Type string          `json:"type"` // "nudge_received"
	From ParticipantInfo `json:"from"`
}

type CursorMessage struct {
	Type   string          `json:"type"` // "cursor"
	FromID string          `json:"from_id"`
	Cursor json.RawMessage `json:"cursor"`
}
