package service

import "sync"

// IndexGate orders writers of the vector index. Ingestion commits hold it
// shared; a rebuild holds it exclusively, so a rebuild never observes a
// source whose entries are indexed but whose state is not yet processed.
type IndexGate struct {
	mu sync.RWMutex
}

func NewIndexGate() *IndexGate {
	return &IndexGate{}
}

func (g *IndexGate) shared() func() {
	g.mu.RLock()
	return g.mu.RUnlock
}

func (g *IndexGate) exclusive() func() {
	g.mu.Lock()
	return g.mu.Unlock
}
