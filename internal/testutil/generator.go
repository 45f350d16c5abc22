package testutil

import (
	"context"
	"fmt"
	"sync"

	"tbsync/internal/ops"
	"tbsync/internal/repair"
)

// ScriptedGenerator returns queued proposals in order and records every
// request it receives. Once the queue is empty it repeats the last entry.
type ScriptedGenerator struct {
	mu        sync.Mutex
	proposals []repair.Proposal
	errs      []error
	requests  []repair.Request
}

// NewScriptedGenerator queues one proposal per patch.
func NewScriptedGenerator(patches ...ops.Patch) *ScriptedGenerator {
	g := &ScriptedGenerator{}
	for _, p := range patches {
		g.Push(repair.Proposal{Patch: p})
	}
	return g
}

// Push queues a proposal.
func (g *ScriptedGenerator) Push(p repair.Proposal) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proposals = append(g.proposals, p)
	g.errs = append(g.errs, nil)
	return g
}

// PushError queues a generator failure.
func (g *ScriptedGenerator) PushError(err error) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proposals = append(g.proposals, repair.Proposal{})
	g.errs = append(g.errs, err)
	return g
}

func (g *ScriptedGenerator) Generate(_ context.Context, req repair.Request) (repair.Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	if len(g.proposals) == 0 {
		return repair.Proposal{}, fmt.Errorf("scripted generator has no proposals")
	}
	i := len(g.requests) - 1
	if i >= len(g.proposals) {
		i = len(g.proposals) - 1
	}
	return g.proposals[i], g.errs[i]
}

// Requests returns a copy of the requests received so far.
func (g *ScriptedGenerator) Requests() []repair.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]repair.Request(nil), g.requests...)
}

var _ repair.Generator = (*ScriptedGenerator)(nil)
