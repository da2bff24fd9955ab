package view

import "github.com/roach88/braid/internal/ir"

// Predicate filters documents in Query.
type Predicate func(ir.Doc) bool

// All matches every document.
func All() Predicate {
	return nil
}

// Where matches documents whose field equals v.
func Where(field string, v ir.Value) Predicate {
	return func(d ir.Doc) bool {
		got, ok := d[field]
		return ok && ir.Equal(got, v)
	}
}

// Has matches documents that carry field.
func Has(field string) Predicate {
	return func(d ir.Doc) bool {
		_, ok := d[field]
		return ok
	}
}

// And matches documents that satisfy every predicate. Nil predicates are
// ignored.
func And(preds ...Predicate) Predicate {
	return func(d ir.Doc) bool {
		for _, p := range preds {
			if p != nil && !p(d) {
				return false
			}
		}
		return true
	}
}

// Fields builds an equality predicate from field/value pairs, as given on
// the command line.
func Fields(eq map[string]ir.Value) Predicate {
	preds := make([]Predicate, 0, len(eq))
	for k, v := range eq {
		preds = append(preds, Where(k, v))
	}
	return And(preds...)
}
