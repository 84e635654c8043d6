package domain

import (
	"iter"
	"maps"
	"slices"
	"time"
)

// FilterSpec narrows raw records to a sampling-date window and a set of
// parameter codes. Zero dates are unbounded; an empty code set means no
// restriction. A FilterSpec is not modified after construction.
type FilterSpec struct {
	DateStart time.Time
	DateEnd   time.Time
	codes     map[string]struct{}
}

// NewFilterSpec builds a FilterSpec, copying the allowed codes.
func NewFilterSpec(start, end time.Time, codes []string) FilterSpec {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return FilterSpec{DateStart: start, DateEnd: end, codes: set}
}

// DateBounded reports whether at least one date bound is set.
func (f FilterSpec) DateBounded() bool {
	return !f.DateStart.IsZero() || !f.DateEnd.IsZero()
}

// Codes returns the allowed parameter codes in sorted order.
func (f FilterSpec) Codes() []string {
	return slices.Sorted(maps.Keys(f.codes))
}

// Allows reports whether a record passes the date window and the parameter set.
func (f FilterSpec) Allows(adapter SourceAdapter, rec RawRecord) bool {
	return f.allowsDate(adapter, rec) && f.allowsParameter(adapter, rec)
}

func (f FilterSpec) allowsDate(adapter SourceAdapter, rec RawRecord) bool {
	if !f.DateBounded() {
		return true
	}
	raw, ok := rec.Field(adapter.NativeDateField())
	if !ok {
		return false
	}
	d, ok := ParseDate(raw)
	if !ok {
		return false
	}
	if !f.DateStart.IsZero() && d.Before(f.DateStart) {
		return false
	}
	if !f.DateEnd.IsZero() && d.After(f.DateEnd) {
		return false
	}
	return true
}

func (f FilterSpec) allowsParameter(adapter SourceAdapter, rec RawRecord) bool {
	if len(f.codes) == 0 {
		return true
	}
	code, ok := rec.Field(adapter.NativeParameterField())
	if !ok {
		return false
	}
	_, allowed := f.codes[code]
	return allowed
}

// Apply returns the records that pass the filter, in input order. The sequence
// is lazy and can be ranged over more than once.
func (f FilterSpec) Apply(adapter SourceAdapter, records []RawRecord) iter.Seq[RawRecord] {
	return func(yield func(RawRecord) bool) {
		for _, rec := range records {
			if !f.Allows(adapter, rec) {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}
