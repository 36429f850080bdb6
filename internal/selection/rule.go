// Package selection parses and applies the site-selection rule evaluated
// against the full site list at run start.
package selection

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/croplab/fieldrun/internal/site"
)

// DefaultSeed is used for Random rules when the configuration does not set an
// explicit seed. A fixed default keeps repeated runs (and repeated fitness
// evaluations) over the same rule deterministic.
const DefaultSeed int64 = 1

type kind int

const (
	kindAll kind = iota
	kindRange
	kindRandom
)

// Rule is a compiled selection expression. Apply returns an ordered subset of
// the full site list and never mutates its input.
type Rule struct {
	kind     kind
	lo, hi   int     // Range(a,b): slice bounds
	fraction float64 // Random(p)
	expr     string
}

var (
	rangePattern  = regexp.MustCompile(`^Range\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)
	randomPattern = regexp.MustCompile(`^Random\(\s*([0-9.]+)\s*\)$`)
)

// Parse compiles a selection expression. The empty expression selects every
// site. Unknown forms are a configuration error, not a silent no-op.
func Parse(expr string) (*Rule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return &Rule{kind: kindAll, expr: trimmed}, nil
	}

	if m := rangePattern.FindStringSubmatch(trimmed); m != nil {
		lo, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("selection rule %q: bad lower index: %w", trimmed, err)
		}
		hi, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("selection rule %q: bad upper index: %w", trimmed, err)
		}
		if lo >= hi {
			return nil, fmt.Errorf("selection rule %q: require a < b", trimmed)
		}
		return &Rule{kind: kindRange, lo: lo, hi: hi, expr: trimmed}, nil
	}

	if m := randomPattern.FindStringSubmatch(trimmed); m != nil {
		p, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("selection rule %q: bad fraction: %w", trimmed, err)
		}
		if p <= 0 || p > 1 {
			return nil, fmt.Errorf("selection rule %q: fraction must be in (0, 1]", trimmed)
		}
		return &Rule{kind: kindRandom, fraction: p, expr: trimmed}, nil
	}

	return nil, fmt.Errorf("unrecognized selection rule %q (expected Range(a,b) or Random(p))", trimmed)
}

// IsRandom reports whether the rule samples pseudo-randomly. Callers that
// need reproducible evaluations must pin a seed for such rules.
func (r *Rule) IsRandom() bool { return r.kind == kindRandom }

// String returns the source expression.
func (r *Rule) String() string {
	if r.kind == kindAll {
		return "<all>"
	}
	return r.expr
}

// Apply evaluates the rule against the full site list. Range bounds outside
// the list are an error; Random samples round(p*N) sites without replacement
// from a generator seeded with seed, preserving original list order.
func (r *Rule) Apply(sites []*site.Site, seed int64) ([]*site.Site, error) {
	n := len(sites)
	switch r.kind {
	case kindAll:
		out := make([]*site.Site, n)
		copy(out, sites)
		return out, nil

	case kindRange:
		if r.hi > n {
			return nil, fmt.Errorf("selection rule %s: upper index %d exceeds site count %d", r.expr, r.hi, n)
		}
		out := make([]*site.Site, r.hi-r.lo)
		copy(out, sites[r.lo:r.hi])
		return out, nil

	case kindRandom:
		k := int(math.Round(r.fraction * float64(n)))
		if k < 1 {
			k = 1
		}
		if k > n {
			k = n
		}
		rng := rand.New(rand.NewSource(seed))
		picked := rng.Perm(n)[:k]
		mask := make([]bool, n)
		for _, i := range picked {
			mask[i] = true
		}
		out := make([]*site.Site, 0, k)
		for i, s := range sites {
			if mask[i] {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unreachable selection kind %d", r.kind)
}
