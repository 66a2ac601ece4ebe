package domain

import (
	"sync"
	"time"
)

// RegistryStats is a point-in-time count of live delivery state.
type RegistryStats struct {
	Connections   int `json:"connections"`
	Topics        int `json:"topics"`
	Subscriptions int `json:"subscriptions"`
}

type NodeHealth struct {
	PID        int32         `json:"pid"`
	CPU        float64       `json:"cpu"`
	RAM        float32       `json:"ram"`
	RSS        uint64        `json:"rss"`
	Goroutines int           `json:"goroutines"`
	Registry   RegistryStats `json:"registry"`
	LastSeen   time.Time     `json:"lastSeen"`
}

// HealthBoard keeps the latest NodeHealth published by the monitoring worker.
type HealthBoard struct {
	mu   sync.RWMutex
	node NodeHealth
}

func NewHealthBoard() *HealthBoard {
	return &HealthBoard{}
}

func (b *HealthBoard) Update(n NodeHealth) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n.LastSeen = time.Now().UTC()
	b.node = n
}

func (b *HealthBoard) Snapshot() NodeHealth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.node
}
