// Package matcher proposes capabilities for analyzed sentences from
// configured keyword and pattern rules.
package matcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"alixia/internal/capability"
	"alixia/internal/config"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/room"
	"alixia/internal/rooms/linguist"
	"alixia/internal/ticket"
)

type rule struct {
	name       capability.Name
	keywords   []string
	pattern    *regexp.Regexp
	confidence int
}

// match returns the rule's object for s and whether it applies.
func (r rule) match(s *ticket.Sentence) (string, bool) {
	text := s.Normalized
	if r.pattern != nil {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		if len(m) > 1 {
			return strings.TrimSpace(m[1]), true
		}
		return "", true
	}
	padded := " " + text + " "
	for _, kw := range r.keywords {
		i := strings.Index(padded, " "+kw+" ")
		if i < 0 {
			continue
		}
		return strings.TrimSpace(padded[i+len(kw)+2:]), true
	}
	return "", false
}

type Matcher struct {
	room.Nop
	rules    []rule
	analyzer linguist.Analyzer
	alloc    ids.Allocator
}

// New compiles the configured rules.
func New(rules []config.MatcherRule) (*Matcher, error) {
	m := &Matcher{analyzer: linguist.NewSimpleAnalyzer()}
	for i, rc := range rules {
		r := rule{name: capability.Name(rc.Capability), confidence: rc.Confidence}
		for _, kw := range rc.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				r.keywords = append(r.keywords, kw)
			}
		}
		if rc.Pattern != "" {
			re, err := regexp.Compile(rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("matcher rule %d (%s): %w", i, rc.Capability, err)
			}
			r.pattern = re
		}
		if r.pattern == nil && len(r.keywords) == 0 {
			return nil, fmt.Errorf("matcher rule %d (%s): keywords or pattern required", i, rc.Capability)
		}
		m.rules = append(m.rules, r)
	}
	return m, nil
}

func (m *Matcher) Identity() identity.Room { return identity.Matcher }

func (m *Matcher) Capabilities() []capability.Name {
	return []capability.Name{capability.CapabilityAnalysis}
}

func (m *Matcher) OnStart(_ context.Context, e *room.Engine) error {
	m.alloc = e.IDs()
	return nil
}

func (m *Matcher) CreateResult(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	if !pkg.Is(capability.CapabilityAnalysis) {
		return nil, nil
	}
	sentences, err := m.sentences(ctx, req)
	if err != nil {
		return nil, err
	}
	var out ticket.Capabilities
	for _, s := range sentences {
		for _, r := range m.rules {
			object, ok := r.match(s)
			if !ok {
				continue
			}
			p, err := ticket.NewCapability(ctx, m.alloc, r.name, object, r.confidence, s)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return ticket.Proposals{Packages: out}, nil
}

// sentences uses the journal's analysis when the request carries one and
// analyzes the raw message otherwise.
func (m *Matcher) sentences(ctx context.Context, req *document.Request) ([]*ticket.Sentence, error) {
	if s, ok := req.Payload.([]*ticket.Sentence); ok && len(s) > 0 {
		return s, nil
	}
	if req.Message == "" {
		return nil, nil
	}
	out := m.analyzer.Analyze(req.Message)
	for _, s := range out {
		n, err := m.alloc.Next(ctx, ids.Sentence)
		if err != nil {
			return nil, err
		}
		s.ID = ids.Format(ids.Sentence, n)
	}
	return out, nil
}
