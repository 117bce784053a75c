package main

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. Its id doubles as the participant id:
// identity is pseudonymous and per-connection.
type Client struct {
	conn    *websocket.Conn
	send    chan any
	id      string
	limiter *rate.Limiter
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan any, 16),
		id:   uuid.NewString(),
		// Sustained 1 event/sec with burst headroom keeps floods away
		// from the room actor without touching normal play.
		limiter: rate.NewLimiter(1, 20),
	}
}

func (c *Client) readPump(room *Room) {
	defer func() {
		select {
		case room.unreg <- c:
		case <-room.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !c.limiter.Allow() {
			continue
		}

		switch msg.Type {
		case "cursor",
			"configure_lobby", "start_game",
			"intro_ready", "player_ready", "transition_to_reveal",
			"choice_answer", "slider_answer",
			"reveal_request", "nudge",
			"chat_send", "chat_close":
			select {
			case room.events <- eventEnvelope{client: c, msg: msg}:
			case <-room.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
