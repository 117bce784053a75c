package main

import (
	"crypto/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// RoomManager holds the live rooms keyed by room id, so each $path/$roomid
// is its own isolated session. Room ids are opaque routing keys.
type RoomManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	idleTimeout time.Duration

	decks     DeckProvider
	generator NarrativeGenerator
}

func newRoomManager(cfg *Config) *RoomManager {
	var generator NarrativeGenerator
	if cfg.narrativeURL != "" {
		generator = newHTTPGenerator(cfg.narrativeURL, cfg.narrativeRetries)
	}

	rm := &RoomManager{
		rooms:       make(map[string]*Room),
		idleTimeout: cfg.sessionTimeout,
		decks:       newBuiltinDecks(),
		generator:   generator,
	}
	if rm.idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

func (rm *RoomManager) getRoom(cfg *Config, roomID string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room, ok := rm.rooms[roomID]; ok {
		return room
	}

	room := newRoom(roomID, rm.decks, rm.generator)
	rm.rooms[roomID] = room
	go room.run(cfg)
	return room
}

// newRoomID generates a crypto-random room id and ensures it doesn't
// collide with existing rooms.
func (rm *RoomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		rm.mu.Lock()
		_, exists := rm.rooms[id]
		rm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically ends rooms that have been idle longer than
// idleTimeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, room := range rm.rooms {
			if room.lastActiveAt().Before(cutoff) {
				delete(rm.rooms, id)
				room.shutdown()
			}
		}
		rm.mu.Unlock()
	}
}

// WebSocket handler that picks the room based on :roomid
func serveWSForManager(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		room := rm.getRoom(cfg, roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logErr("upgrade failed", err)
			return
		}

		client := newClient(conn)

		select {
		case room.register <- client:
		case <-room.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(room)
	}
}

// QR handler: generates a PNG QR code for the current room URL, for
// passing a join link around the table.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(roomHTML))
	}
}

// redirectNewRoom handles GET /path by generating a new random room id
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "ROOMS: Created room %s/%s", path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerMatchGame sets up routes so that:
//   - $path            → redirects to a new random room (8-char id)
//   - $path/:roomid    → HTML client
//   - $path/:roomid/ws → WebSocket for that room
//   - $path/:roomid/qr → PNG QR code for that room URL
func registerMatchGame(cfg *Config, path string, mux *httprouter.Router) {
	rm := newRoomManager(cfg)

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, rm))

	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg))

	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWSForManager(cfg, rm))

	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}

// Minimal in-browser client for poking at a room.
const roomHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Matchbox</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 2rem; }
  #log { margin-top: 1rem; padding: 0; list-style: none; font-size: 0.9rem; }
  #log li { padding: 0.15rem 0; border-bottom: 1px solid #eee; }
  input { width: 24rem; }
</style>
</head>
<body>
<h1>Matchbox</h1>
<div id="status">Connecting…</div>
<input id="input" placeholder='{"type":"intro_ready"}'>
<button id="send">Send</button>
<ul id="log"></ul>

<script>
(function() {
  const statusEl = document.getElementById('status');
  const logEl = document.getElementById('log');
  const inputEl = document.getElementById('input');

  const proto = (location.protocol === 'https:') ? 'wss://' : 'ws://';
  const wsPath = location.pathname.replace(/\/$/, '') + '/ws';
  const ws = new WebSocket(proto + location.host + wsPath);

  function log(text) {
    const li = document.createElement('li');
    li.textContent = text;
    logEl.prepend(li);
  }

  ws.onopen = function() { statusEl.textContent = 'Connected.'; };
  ws.onmessage = function(event) { log(event.data); };
  ws.onclose = function() { statusEl.textContent = 'Disconnected.'; };
  ws.onerror = function() { statusEl.textContent = 'Error with WebSocket.'; };

  document.getElementById('send').onclick = function() {
    try {
      ws.send(JSON.stringify(JSON.parse(inputEl.value)));
    } catch (e) {
      log('bad input: ' + e);
    }
  };
})();
</script>
</body>
</html>
`
