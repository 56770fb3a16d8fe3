package pool

import "time"

// strategy picks one identity from the eligible candidates. Called under
// the pool mutex with a stably-ordered candidate list; may mutate candidate
// state (the hybrid picker consumes a token).
type strategy interface {
	name() string
	pick(candidates []*Identity, now time.Time) *Identity
}

// roundRobin cycles a cursor over the candidate list, guaranteeing
// full-cycle coverage of whatever is eligible at each call.
type roundRobin struct {
	cursor int
}

func (r *roundRobin) name() string { return "round_robin" }

func (r *roundRobin) pick(candidates []*Identity, _ time.Time) *Identity {
	picked := candidates[r.cursor%len(candidates)]
	r.cursor++
	return picked
}

// hybrid restricts to identities above the health floor with tokens left,
// then picks the healthiest; ties go to the least recently used. Selection
// consumes one token.
type hybrid struct {
	opts Options
}

func (h *hybrid) name() string { return "hybrid" }

func (h *hybrid) pick(candidates []*Identity, _ time.Time) *Identity {
	var best *Identity
	var bestHealth float64
	var bestUsed time.Time

	for _, id := range candidates {
		id.mu.Lock()
		health := id.Health
		tokens := id.Tokens
		used := id.LastUsedAt
		id.mu.Unlock()

		if health < h.opts.MinHealth || tokens < 1 {
			continue
		}
		if best == nil || health > bestHealth || (health == bestHealth && used.Before(bestUsed)) {
			best = id
			bestHealth = health
			bestUsed = used
		}
	}

	if best != nil {
		best.mu.Lock()
		best.Tokens -= 1
		best.mu.Unlock()
	}
	return best
}
