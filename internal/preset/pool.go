package preset

import "ptz-panel/internal/ptz"

// IDPool hands out preset ids: first the gaps below the highest occupied id,
// lowest first, then ids above it.
//
// The pool is computed from a list snapshot. Ids freed by a delete are not
// returned to it; only the next full list picks them up again.
type IDPool struct {
	free []int
	next int
}

// NewIDPool scans presets, which must be sorted by id, for unused ids starting at 0.
func NewIDPool(presets []ptz.Preset) *IDPool {
	p := &IDPool{}
	prev := -1
	for _, pr := range presets {
		if pr.ID <= prev {
			continue
		}
		for id := prev + 1; id < pr.ID; id++ {
			p.free = append(p.free, id)
		}
		prev = pr.ID
	}
	p.next = prev + 1
	return p
}

// Next consumes and returns the next id.
func (p *IDPool) Next() int {
	if len(p.free) > 0 {
		id := p.free[0]
		p.free = p.free[1:]
		return id
	}
	id := p.next
	p.next++
	return id
}

// Reserve takes id out of the pool as if Next had returned it.
func (p *IDPool) Reserve(id int) {
	if id >= p.next {
		for gap := p.next; gap < id; gap++ {
			p.free = append(p.free, gap)
		}
		p.next = id + 1
		return
	}
	for i, f := range p.free {
		if f == id {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return
		}
	}
}

// Peek returns the id Next would return, without consuming it.
func (p *IDPool) Peek() int {
	if len(p.free) > 0 {
		return p.free[0]
	}
	return p.next
}

// Free returns the unused ids below the highest occupied one.
func (p *IDPool) Free() []int {
	return append([]int(nil), p.free...)
}
