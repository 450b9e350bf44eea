package dag

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// Schedule orders the declared modules into waves. Every dependency of a
// module in wave k sits in an earlier wave, so the modules of one wave
// build in parallel.
type Schedule struct {
	Waves [][]ModuleID
	// Stuck holds the modules on a dependency cycle and those depending on
	// one. They are never scheduled.
	Stuck []ModuleID
}

// NewSchedule peels g wave by wave, starting from the modules without
// dependencies. Ids inside a wave are sorted.
func NewSchedule(g Graph) *Schedule {
	waiting := slices.Clone(g.Indeg)
	s := &Schedule{}

	var wave []ModuleID
	for i, present := range g.Present {
		if present && waiting[i] == 0 {
			wave = append(wave, moduleID(i))
		}
	}
	for len(wave) > 0 {
		s.Waves = append(s.Waves, wave)
		var next []ModuleID
		for _, id := range wave {
			for _, to := range g.Edges[int(id)] {
				if !g.Present[int(to)] {
					continue
				}
				waiting[int(to)]--
				if waiting[int(to)] == 0 {
					next = append(next, to)
				}
			}
		}
		slices.Sort(next)
		wave = next
	}

	for i, present := range g.Present {
		if present && waiting[i] > 0 {
			s.Stuck = append(s.Stuck, moduleID(i))
		}
	}
	return s
}

// Cyclic reports whether some declared module could not be scheduled.
func (s *Schedule) Cyclic() bool { return len(s.Stuck) > 0 }

// Order is the waves flattened.
func (s *Schedule) Order() []ModuleID {
	var out []ModuleID
	for _, w := range s.Waves {
		out = append(out, w...)
	}
	return out
}

// Only keeps the modules accepted by keep; waves left empty disappear.
// A nil keep keeps everything.
func (s *Schedule) Only(keep func(ModuleID) bool) [][]ModuleID {
	var out [][]ModuleID
	for _, w := range s.Waves {
		var kept []ModuleID
		for _, id := range w {
			if keep == nil || keep(id) {
				kept = append(kept, id)
			}
		}
		if len(kept) > 0 {
			out = append(out, kept)
		}
	}
	return out
}

func moduleID(i int) ModuleID {
	id, err := safecast.Conv[ModuleID](i)
	if err != nil {
		panic(fmt.Errorf("module id overflow: %w", err))
	}
	return id
}
