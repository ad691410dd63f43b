package sat

// formula is a boolean formula over numbered variables. Constructors
// fold constants so substitution naturally simplifies the tree.
type formula struct {
	kind fKind
	v    int
	kids []*formula
}

type fKind int8

const (
	fTrue fKind = iota
	fFalse
	fVar
	fAnd
	fOr
	fNot
)

func fConst(b bool) *formula {
	if b {
		return &formula{kind: fTrue}
	}
	return &formula{kind: fFalse}
}

func fVariable(v int) *formula { return &formula{kind: fVar, v: v} }

func fAndOf(kids ...*formula) *formula {
	var kept []*formula
	for _, k := range kids {
		switch k.kind {
		case fTrue:
			continue
		case fFalse:
			return fConst(false)
		case fAnd:
			kept = append(kept, k.kids...)
			continue
		}
		kept = append(kept, k)
	}
	switch len(kept) {
	case 0:
		return fConst(true)
	case 1:
		return kept[0]
	}
	return &formula{kind: fAnd, kids: kept}
}

func fOrOf(kids ...*formula) *formula {
	var kept []*formula
	for _, k := range kids {
		switch k.kind {
		case fFalse:
			continue
		case fTrue:
			return fConst(true)
		case fOr:
			kept = append(kept, k.kids...)
			continue
		}
		kept = append(kept, k)
	}
	switch len(kept) {
	case 0:
		return fConst(false)
	case 1:
		return kept[0]
	}
	return &formula{kind: fOr, kids: kept}
}

func fNotOf(k *formula) *formula {
	switch k.kind {
	case fTrue:
		return fConst(false)
	case fFalse:
		return fConst(true)
	case fNot:
		return k.kids[0]
	}
	return &formula{kind: fNot, kids: []*formula{k}}
}

// assign substitutes a truth value for a variable, rebuilding the tree
// through the folding constructors.
func (f *formula) assign(v int, val bool) *formula {
	switch f.kind {
	case fTrue, fFalse:
		return f
	case fVar:
		if f.v == v {
			return fConst(val)
		}
		return f
	case fNot:
		return fNotOf(f.kids[0].assign(v, val))
	case fAnd:
		kids := make([]*formula, len(f.kids))
		for i, k := range f.kids {
			kids[i] = k.assign(v, val)
		}
		return fAndOf(kids...)
	case fOr:
		kids := make([]*formula, len(f.kids))
		for i, k := range f.kids {
			kids[i] = k.assign(v, val)
		}
		return fOrOf(kids...)
	}
	return f
}

// firstVar returns the lowest-numbered variable in the formula, or -1
// for a constant formula. Deterministic branching keeps the analysis
// reproducible.
func (f *formula) firstVar() int {
	switch f.kind {
	case fVar:
		return f.v
	case fTrue, fFalse:
		return -1
	}
	min := -1
	for _, k := range f.kids {
		if v := k.firstVar(); v >= 0 && (min < 0 || v < min) {
			min = v
		}
	}
	return min
}

// satisfiable runs a DPLL-style search: branch on the first variable,
// substitute, and recurse on the simplified formula. Per-entity variable
// counts are small and bounded, so the exponential worst case is
// acceptable here; the analysis runs once per definition, never on the
// request path.
func satisfiable(f *formula) bool {
	switch f.kind {
	case fTrue:
		return true
	case fFalse:
		return false
	}
	v := f.firstVar()
	if v < 0 {
		return false
	}
	return satisfiable(f.assign(v, true)) || satisfiable(f.assign(v, false))
}
