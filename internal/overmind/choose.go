package overmind

import (
	"sort"
	"strings"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/ticket"
)

// outranks orders competing proposals: higher confidence first, then name,
// then object. It does not depend on arrival order.
func outranks(a, b *ticket.CapabilityPackage) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Object < b.Object
}

// Unify keeps, for each sentence, the single best proposal. Proposals not
// tied to a sentence are dropped and returned separately. The result is
// ordered by sentence position.
func Unify(proposals ticket.Capabilities) (unified, orphaned ticket.Capabilities) {
	best := make(map[string]*ticket.CapabilityPackage)
	sentences := make(map[string]*ticket.Sentence)
	for _, p := range proposals {
		if p == nil {
			continue
		}
		if p.Sentence == nil {
			orphaned = append(orphaned, p)
			continue
		}
		key := p.Sentence.ID
		sentences[key] = p.Sentence
		if cur, ok := best[key]; !ok || outranks(p, cur) {
			best[key] = p
		}
	}
	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, sj := sentences[keys[i]], sentences[keys[j]]
		if si.Index != sj.Index {
			return si.Index < sj.Index
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		unified = append(unified, best[k])
	}
	return unified, orphaned
}

// winnow drops multimedia results the session cannot use, keeping at least one.
func winnow(rs ticket.Results, req dialog.Request) ticket.Results {
	if len(rs) <= 1 || (req.SessionType != dialog.SessionText && !req.Quiet) {
		return rs
	}
	var kept ticket.Results
	for _, r := range rs {
		if m, ok := r.Result.(ticket.MultiMedia); ok && m.MultiMedia() {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return rs[:1]
	}
	return kept
}

// choose picks the one result that makes it into the answer. Pipeline
// capabilities never get here; proposals are ranked by Unify.
func (o *Overmind) choose(rs ticket.Results) *ticket.ResultPackage {
	switch {
	case len(rs) == 0:
		return nil
	case len(rs) == 1:
		return rs[0]
	default:
		return rs[o.opts.Choose(len(rs))]
	}
}

// assemble folds the winners of every capability into one client response
// and records them in the journal.
func (o *Overmind) assemble(t *ticket.Ticket, content ticket.Results) dialog.Response {
	j := t.Journal()
	cr := j.ClientRequest()
	resp := dialog.Response{
		TurnID:     cr.TurnID,
		TicketID:   t.ID,
		ToClient:   cr.ClientID,
		Language:   cr.Language,
		Capability: capability.ClientResponse,
	}
	order, groups := content.GroupByName()
	var msgs, expls []string
	for _, n := range order {
		w := o.choose(winnow(groups[n], cr))
		if w == nil {
			continue
		}
		j.AddResult(w)
		if m := strings.TrimSpace(w.Result.Message()); m != "" {
			msgs = append(msgs, m)
		}
		if x := strings.TrimSpace(w.Result.Explanation()); x != "" {
			expls = append(expls, x)
		}
		if p, ok := w.Result.(ticket.Payloader); ok && resp.Payload == nil {
			resp.Payload = p.Payload()
		}
		if r, ok := w.Result.(ticket.Redirect); ok {
			if r.ToClient != "" {
				resp.ToClient = r.ToClient
			}
			if r.Capability != "" {
				resp.Capability = r.Capability
			}
		}
	}
	resp.Message = strings.Join(msgs, "\n")
	resp.Explanation = strings.Join(expls, "\n\n")
	return resp
}
