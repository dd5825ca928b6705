package pacing

import "pet-adoption-pipeline/types"

// Candidate tiers, best first
const (
	tierMoodMatch = iota // unused and mood == stage
	tierUnused           // unused, any mood
	tierReuse            // already used; least recently used wins
)

// arena indexes the usable clips of one job with usage counters.
// Slot order is pool order, which breaks every tie.
type arena struct {
	clips    []types.ClipAsset
	moods    []types.Stage
	uses     []int
	lastUsed []int // beat step of the latest pick, -1 when unused
}

func newArena(clips []types.ClipAsset) *arena {
	a := &arena{
		clips:    clips,
		moods:    make([]types.Stage, len(clips)),
		uses:     make([]int, len(clips)),
		lastUsed: make([]int, len(clips)),
	}
	for i, c := range clips {
		if st, ok := types.ParseStage(c.Mood); ok {
			a.moods[i] = st
		}
		a.lastUsed[i] = -1
	}
	return a
}

func (a *arena) tier(i int, stage types.Stage) int {
	switch {
	case a.uses[i] > 0:
		return tierReuse
	case a.moods[i] != "" && a.moods[i] == stage:
		return tierMoodMatch
	}
	return tierUnused
}

// best runs the ranked-candidate search for one beat. Rank is
// (tier, last use for reused clips, slot). The arena must not be empty.
func (a *arena) best(stage types.Stage) (slot, tier int) {
	slot, tier = -1, tierReuse+1
	for i := range a.clips {
		t := a.tier(i, stage)
		switch {
		case slot < 0, t < tier:
		case t == tier && t == tierReuse && a.lastUsed[i] < a.lastUsed[slot]:
		default:
			continue
		}
		slot, tier = i, t
	}
	return slot, tier
}

func (a *arena) markUsed(slot, step int) {
	a.uses[slot]++
	a.lastUsed[slot] = step
}
