package main

import (
	"time"
)

const nudgeCooldown = 10 * time.Second

// nudgeLimiter gates the poke signal with a directed per-(sender,target)
// cooldown.
type nudgeLimiter struct {
	last map[string]time.Time
}

func newNudgeLimiter() *nudgeLimiter {
	return &nudgeLimiter{
		last: make(map[string]time.Time),
	}
}

// attempt returns whether the nudge is allowed and, when it is not, how
// long until the cooldown expires. A successful attempt resets the clock.
func (n *nudgeLimiter) attempt(sender, target string, now time.Time) (bool, time.Duration) {
	key := sender + "|" + target

	if prev, ok := n.last[key]; ok {
		elapsed := now.Sub(prev)
		if elapsed < nudgeCooldown {
			return false, nudgeCooldown - elapsed
		}
	}

	n.last[key] = now
	return true, 0
}
