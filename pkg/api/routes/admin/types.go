package admin

import (
	"time"

	"convodb/pkg/chat"
)

// Handlers serves the operator API under /admin.
type Handlers struct {
	Chat    *chat.Service
	Started time.Time
}

type statsResponse struct {
	Seq           uint64         `json:"seq"`
	Families      map[string]int `json:"families"`
	Users         int            `json:"users"`
	Conversations int            `json:"conversations"`
	Messages      int            `json:"messages"`
	Subscriptions int            `json:"subscriptions"`
	Uptime        string         `json:"uptime"`
	Started       string         `json:"started"`
}

type keysResponse struct {
	Keys       []string `json:"keys"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type sweepResponse struct {
	Cleared int `json:"cleared"`
}
