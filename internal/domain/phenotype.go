package domain

import "fmt"

// LocusInfo holds the two values typed at a single locus
type LocusInfo[T any] struct {
	Position1 T `json:"position1"`
	Position2 T `json:"position2"`
}

// NewLocusInfo builds a pair
func NewLocusInfo[T any](p1, p2 T) LocusInfo[T] {
	return LocusInfo[T]{Position1: p1, Position2: p2}
}

// At returns the value at the given position
func (i LocusInfo[T]) At(p LocusPosition) T {
	if p == PositionTwo {
		return i.Position2
	}
	return i.Position1
}

// Swap returns the pair with its positions exchanged
func (i LocusInfo[T]) Swap() LocusInfo[T] {
	return LocusInfo[T]{Position1: i.Position2, Position2: i.Position1}
}

// MapLocusInfo applies fn to both positions
func MapLocusInfo[T, U any](i LocusInfo[T], fn func(T) U) LocusInfo[U] {
	return LocusInfo[U]{Position1: fn(i.Position1), Position2: fn(i.Position2)}
}

// LociInfo holds one value per locus
type LociInfo[T any] struct {
	A    T `json:"A"`
	B    T `json:"B"`
	C    T `json:"C"`
	Dpb1 T `json:"DPB1"`
	Dqb1 T `json:"DQB1"`
	Drb1 T `json:"DRB1"`
}

// At returns the value stored for the locus
func (l LociInfo[T]) At(locus Locus) T {
	switch locus {
	case LocusA:
		return l.A
	case LocusB:
		return l.B
	case LocusC:
		return l.C
	case LocusDpb1:
		return l.Dpb1
	case LocusDqb1:
		return l.Dqb1
	case LocusDrb1:
		return l.Drb1
	}
	panic(fmt.Sprintf("unsupported locus %d", int(locus)))
}

// Set stores the value for the locus
func (l *LociInfo[T]) Set(locus Locus, v T) {
	switch locus {
	case LocusA:
		l.A = v
	case LocusB:
		l.B = v
	case LocusC:
		l.C = v
	case LocusDpb1:
		l.Dpb1 = v
	case LocusDqb1:
		l.Dqb1 = v
	case LocusDrb1:
		l.Drb1 = v
	default:
		panic(fmt.Sprintf("unsupported locus %d", int(locus)))
	}
}

// With returns a copy with the locus value replaced
func (l LociInfo[T]) With(locus Locus, v T) LociInfo[T] {
	l.Set(locus, v)
	return l
}

// MapLoci applies fn to every locus value
func MapLoci[T, U any](l LociInfo[T], fn func(Locus, T) U) LociInfo[U] {
	var out LociInfo[U]
	for _, locus := range AllLoci {
		out.Set(locus, fn(locus, l.At(locus)))
	}
	return out
}

// PhenotypeInfo holds a pair of values at every locus. Raw typings use
// PhenotypeInfo[string] with an empty string marking an untyped position.
type PhenotypeInfo[T any] = LociInfo[LocusInfo[T]]

// IsLocusTyped reports whether both positions of a raw typing carry a value
func IsLocusTyped(p PhenotypeInfo[string], locus Locus) bool {
	info := p.At(locus)
	return info.Position1 != "" && info.Position2 != ""
}

// UntypedLoci returns the match prediction loci not fully typed in p
func UntypedLoci(p PhenotypeInfo[string]) LocusSet {
	set := make(LocusSet)
	for _, locus := range MatchPredictionLoci {
		if !IsLocusTyped(p, locus) {
			set[locus] = struct{}{}
		}
	}
	return set
}
