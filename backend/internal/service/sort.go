package service

import (
	"cmp"
	"slices"

	"github.com/picrelay/picrelay/shared/domain"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortByName orders references by name the way a person would: digit runs
// compare by value and case is ignored. Ties fall back to the raw name and
// then the id so the order is total.
func SortByName(refs []domain.FileReference, tag language.Tag) {
	c := collate.New(tag, collate.Numeric, collate.IgnoreCase)
	slices.SortStableFunc(refs, func(a, b domain.FileReference) int {
		if r := c.CompareString(a.Name, b.Name); r != 0 {
			return r
		}
		if r := cmp.Compare(a.Name, b.Name); r != 0 {
			return r
		}
		return cmp.Compare(a.Id, b.Id)
	})
}
