// Package linguist answers the language-analysis capability.
package linguist

import (
	"context"

	"alixia/internal/capability"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

type Linguist struct {
	room.Nop
	analyzer Analyzer
	alloc    ids.Allocator
}

func New(a Analyzer) *Linguist {
	if a == nil {
		a = NewSimpleAnalyzer()
	}
	return &Linguist{analyzer: a}
}

func (l *Linguist) Identity() identity.Room { return identity.Linguist }

func (l *Linguist) Capabilities() []capability.Name {
	return []capability.Name{capability.LanguageAnalysis}
}

func (l *Linguist) OnStart(_ context.Context, e *room.Engine) error {
	l.alloc = e.IDs()
	return nil
}

func (l *Linguist) CreateResult(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	if !pkg.Is(capability.LanguageAnalysis) || req.Message == "" {
		return nil, nil
	}
	sentences := l.analyzer.Analyze(req.Message)
	for _, s := range sentences {
		n, err := l.alloc.Next(ctx, ids.Sentence)
		if err != nil {
			return nil, err
		}
		s.ID = ids.Format(ids.Sentence, n)
	}
	return ticket.Analysis{Sentences: sentences}, nil
}
