package ticket

import (
	"context"
	"fmt"

	"alixia/internal/capability"
	"alixia/internal/ids"
)

// MaxConfidence is the top of the confidence scale.
const MaxConfidence = 100

// CapabilityPackage is one requested capability instance.
type CapabilityPackage struct {
	ID         string          `json:"id"`
	Name       capability.Name `json:"name"`
	Object     string          `json:"object,omitempty"`
	Confidence int             `json:"confidence"`
	Sentence   *Sentence       `json:"sentence,omitempty"`
}

// NewCapability allocates a package. Confidence is clamped to [0, 100].
func NewCapability(ctx context.Context, alloc ids.Allocator, name capability.Name, object string, confidence int, s *Sentence) (*CapabilityPackage, error) {
	n, err := alloc.Next(ctx, ids.Capability)
	if err != nil {
		return nil, fmt.Errorf("allocate capability package: %w", err)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > MaxConfidence {
		confidence = MaxConfidence
	}
	return &CapabilityPackage{
		ID:         ids.Format(ids.Capability, n),
		Name:       name,
		Object:     object,
		Confidence: confidence,
		Sentence:   s,
	}, nil
}

// DefaultCapability builds an assumed (not inferred) package with confidence 0.
func DefaultCapability(ctx context.Context, alloc ids.Allocator, name capability.Name) (*CapabilityPackage, error) {
	return NewCapability(ctx, alloc, name, "", 0, nil)
}

// SingletonDefault wraps DefaultCapability in a one-element list.
func SingletonDefault(ctx context.Context, alloc ids.Allocator, name capability.Name) (Capabilities, error) {
	p, err := DefaultCapability(ctx, alloc, name)
	if err != nil {
		return nil, err
	}
	return Capabilities{p}, nil
}

func (p *CapabilityPackage) Valid() bool {
	return p != nil && p.ID != "" && p.Name != "" && p.Confidence >= 0 && p.Confidence <= MaxConfidence
}

func (p *CapabilityPackage) Is(n capability.Name) bool {
	return p != nil && p.Name == n
}

func (p *CapabilityPackage) String() string {
	return fmt.Sprintf("%s(%s@%d)", p.ID, p.Name, p.Confidence)
}

// Capabilities is an ordered list of capability packages.
type Capabilities []*CapabilityPackage

func (c Capabilities) Has(n capability.Name) bool {
	for _, p := range c {
		if p.Is(n) {
			return true
		}
	}
	return false
}

// Names lists the capability names in order, with duplicates.
func (c Capabilities) Names() []capability.Name {
	out := make([]capability.Name, 0, len(c))
	for _, p := range c {
		out = append(out, p.Name)
	}
	return out
}

// Consume removes the first package naming n. The receiver is not modified.
func (c Capabilities) Consume(n capability.Name) (*CapabilityPackage, Capabilities) {
	for i, p := range c {
		if p.Is(n) {
			rest := make(Capabilities, 0, len(c)-1)
			rest = append(rest, c[:i]...)
			rest = append(rest, c[i+1:]...)
			return p, rest
		}
	}
	return nil, c
}

// ConsumeFinal is Consume for a package that must be the only one present.
// It panics when a match is found and anything remains.
func (c Capabilities) ConsumeFinal(n capability.Name) (*CapabilityPackage, Capabilities) {
	p, rest := c.Consume(n)
	if p != nil && len(rest) > 0 {
		panic(&InvariantError{Op: "ConsumeFinal", Detail: fmt.Sprintf("%s consumed but %d capability packages remain", n, len(rest))})
	}
	return p, rest
}

// ResultPackage pairs a capability package with what a room produced for it.
type ResultPackage struct {
	ID         string             `json:"id"`
	Capability *CapabilityPackage `json:"capability"`
	Result     Result             `json:"result"`
}

// NewResult allocates a result package.
func NewResult(ctx context.Context, alloc ids.Allocator, pkg *CapabilityPackage, r Result) (*ResultPackage, error) {
	n, err := alloc.Next(ctx, ids.Result)
	if err != nil {
		return nil, fmt.Errorf("allocate result package: %w", err)
	}
	return &ResultPackage{ID: ids.Format(ids.Result, n), Capability: pkg, Result: r}, nil
}

// Fallback builds a result for a synthesized default capability, used when
// no room contributed anything.
func Fallback(ctx context.Context, alloc ids.Allocator, name capability.Name, msg string) (*ResultPackage, error) {
	pkg, err := DefaultCapability(ctx, alloc, name)
	if err != nil {
		return nil, err
	}
	return NewResult(ctx, alloc, pkg, Text{Msg: msg})
}

// Ready reports whether both halves are present.
func (r *ResultPackage) Ready() bool {
	return r != nil && r.Capability != nil && r.Result != nil
}

func (r *ResultPackage) Is(n capability.Name) bool {
	return r != nil && r.Capability.Is(n)
}

// Name returns the capability answered, or empty when not ready.
func (r *ResultPackage) Name() capability.Name {
	if r == nil || r.Capability == nil {
		return ""
	}
	return r.Capability.Name
}

// Results is an ordered list of result packages.
type Results []*ResultPackage

func (rs Results) Has(n capability.Name) bool {
	for _, r := range rs {
		if r.Is(n) {
			return true
		}
	}
	return false
}

// HasAny reports whether rs answers any capability besides the given ones.
func (rs Results) HasAny(except ...capability.Name) bool {
	skip := capability.NewSet(except...)
	for _, r := range rs {
		if !skip.Has(r.Name()) {
			return true
		}
	}
	return false
}

// Consume removes the first package answering n.
func (rs Results) Consume(n capability.Name) (*ResultPackage, Results) {
	for i, r := range rs {
		if r.Is(n) {
			rest := make(Results, 0, len(rs)-1)
			rest = append(rest, rs[:i]...)
			rest = append(rest, rs[i+1:]...)
			return r, rest
		}
	}
	return nil, rs
}

// ConsumeAll splits rs into the packages answering n and the rest.
func (rs Results) ConsumeAll(n capability.Name) (Results, Results) {
	var hit, rest Results
	for _, r := range rs {
		if r.Is(n) {
			hit = append(hit, r)
		} else {
			rest = append(rest, r)
		}
	}
	return hit, rest
}

// ConsumeFinal removes the package answering n and panics if anything
// else remains after a match.
func (rs Results) ConsumeFinal(n capability.Name) (*ResultPackage, Results) {
	r, rest := rs.Consume(n)
	if r != nil && len(rest) > 0 {
		panic(&InvariantError{Op: "ConsumeFinal", Detail: fmt.Sprintf("%s consumed but %d result packages remain", n, len(rest))})
	}
	return r, rest
}

// GroupByName buckets results by capability, keeping first-seen order of names.
func (rs Results) GroupByName() ([]capability.Name, map[capability.Name]Results) {
	var order []capability.Name
	groups := make(map[capability.Name]Results)
	for _, r := range rs {
		n := r.Name()
		if _, ok := groups[n]; !ok {
			order = append(order, n)
		}
		groups[n] = append(groups[n], r)
	}
	return order, groups
}
