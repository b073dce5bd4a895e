// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package match aligns registry entities with an independently maintained
// authoritative list by approximate name equality.
//
// Each primary entity proposes only its best-scoring secondary entry, and
// only when the score reaches the cutoff. When several primaries propose
// the same entry the highest score wins and equal scores go to the
// earliest primary. Losing primaries stay unmatched; they do not fall
// back to a weaker candidate.
package match

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// DefaultCutoff is the minimum score for a match.
const DefaultCutoff = 90

var folder = cases.Fold()

// NormalizeName prepares a name for comparison: NFKC normalization, case
// folding, punctuation removed, and whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	s := folder.String(norm.NFKC.String(name))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Score returns the similarity of two names on a 0-100 scale: one minus
// the edit distance over the longer normalized name, times 100. A name
// that is empty after normalization scores 0.
func Score(a, b string) float64 {
	return score(NormalizeName(a), NormalizeName(b))
}

// score compares two already-normalized names.
func score(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// Result is the outcome of Match.
type Result struct {
	// Matches is ordered by primary index.
	Matches []types.MatchResult

	// SecondaryUnmatched lists unclaimed secondary entries in input order.
	SecondaryUnmatched []types.UnmatchedEntry

	// PrimaryUnmatched lists the indices of primaries without a match.
	PrimaryUnmatched []int

	// Contested lists the indices of primaries whose best candidate went
	// to another primary. They also appear in PrimaryUnmatched.
	Contested []int
}

type claim struct {
	primary int
	score   float64
}

// Match pairs primary entities with secondary entries whose names score
// at least cutoff. Inputs are not modified and an empty result is valid.
func Match(primary []types.Entity, secondary []types.AuthorityEntry, cutoff float64) Result {
	secNames := make([]string, len(secondary))
	for j, s := range secondary {
		secNames[j] = NormalizeName(s.Name)
	}

	best := make([]float64, len(secondary))
	cleared := make([]bool, len(secondary))
	claims := make(map[int][]claim)

	for i, p := range primary {
		name := NormalizeName(p.Title)
		bestJ, bestScore := -1, 0.0
		for j := range secondary {
			s := score(name, secNames[j])
			if s > best[j] {
				best[j] = s
			}
			if s >= cutoff {
				cleared[j] = true
			}
			if s > bestScore || bestJ < 0 {
				bestJ, bestScore = j, s
			}
		}
		if bestJ >= 0 && bestScore >= cutoff {
			claims[bestJ] = append(claims[bestJ], claim{primary: i, score: bestScore})
		}
	}

	var res Result
	winner := make(map[int]claim, len(claims))
	for j, cs := range claims {
		w := cs[0]
		for _, c := range cs[1:] {
			if c.score > w.score || (c.score == w.score && c.primary < w.primary) {
				w = c
			}
		}
		winner[j] = w
		for _, c := range cs {
			if c.primary != w.primary {
				res.Contested = append(res.Contested, c.primary)
			}
		}
	}

	byPrimary := make(map[int]int, len(winner))
	for j, w := range winner {
		byPrimary[w.primary] = j
	}
	for i := range primary {
		j, ok := byPrimary[i]
		if !ok {
			res.PrimaryUnmatched = append(res.PrimaryUnmatched, i)
			continue
		}
		res.Matches = append(res.Matches, types.MatchResult{
			PrimaryIndex:   i,
			Primary:        primary[i],
			SecondaryIndex: j,
			Secondary:      secondary[j],
			Score:          winner[j].score,
		})
	}
	sort.Ints(res.Contested)

	for j, s := range secondary {
		if _, ok := winner[j]; ok {
			continue
		}
		reason := types.UnmatchedNoMatch
		if cleared[j] {
			reason = types.UnmatchedAmbiguous
		}
		res.SecondaryUnmatched = append(res.SecondaryUnmatched, types.UnmatchedEntry{
			Index:     j,
			Entry:     s,
			Reason:    reason,
			BestScore: best[j],
		})
	}
	return res
}
