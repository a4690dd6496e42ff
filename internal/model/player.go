package model

import "time"

// PlayerRecord is the host's view of a participant, keyed by peer id.
type PlayerRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Sheet     Sheet     `json:"ticket"`
	Connected bool      `json:"connected"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// DisplayName falls back to a short id when the player sent no name.
func (p *PlayerRecord) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	id := p.ID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return "Người chơi " + id
}
