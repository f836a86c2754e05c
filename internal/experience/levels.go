package experience

import (
	"math"
	"sort"
)

// MaxLevel is the highest reachable level.
const MaxLevel = 50

// requirements[L] is the cumulative XP needed for level L.
var requirements = func() [MaxLevel + 1]int64 {
	var r [MaxLevel + 1]int64
	for l := 1; l <= MaxLevel; l++ {
		// epsilon keeps exact products like 15*1.15^k from flooring one short
		r[l] = int64(math.Floor(15*math.Pow(1.15, float64(l-1)) + 1e-9))
	}
	return r
}()

// XPRequirement returns the cumulative XP needed to reach level.
// The curve plateaus at MaxLevel.
func XPRequirement(level int) int64 {
	switch {
	case level <= 0:
		return 0
	case level >= MaxLevel:
		return requirements[MaxLevel]
	}
	return requirements[level]
}

// LevelFromXP returns the highest level whose requirement is met by xp.
func LevelFromXP(xp int64) int {
	if xp < requirements[1] {
		return 0
	}
	// first level in 1..MaxLevel whose requirement exceeds xp
	n := sort.Search(MaxLevel, func(i int) bool {
		return requirements[i+1] > xp
	})
	return n
}

// Progress returns XP earned inside the current level and the span of it.
// At MaxLevel the span is zero.
func Progress(xp int64) (into, span int64) {
	level := LevelFromXP(xp)
	if level >= MaxLevel {
		return xp - requirements[MaxLevel], 0
	}
	return xp - XPRequirement(level), XPRequirement(level+1) - XPRequirement(level)
}
