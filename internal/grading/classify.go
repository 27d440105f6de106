// Package grading classifies load-cell weights into egg sizes and derives
// batch statistics from a set of readings. Everything in this package is
// pure and safe for concurrent use.
package grading

import "math"

// Category is the grading label assigned to a single weight reading.
type Category string

const (
	CategoryEmpty      Category = "empty"
	CategoryPeewee     Category = "Peewee"
	CategorySmall      Category = "S"
	CategoryMedium     Category = "M"
	CategoryLarge      Category = "L"
	CategoryExtraLarge Category = "XL"
	CategoryJumbo      Category = "Jumbo"
	CategoryOverweight Category = "overweight-error"
)

const (
	// EmptyBelow is the weight under which a slot is considered to hold no egg.
	EmptyBelow = 5.0
	// OverweightFrom is the weight from which a reading is a sensor/process error.
	OverweightFrom = 500.0
)

// SizeRange is one row of the grading table. Min and Max are the inclusive
// gram bounds as printed on the device calibration sheet.
type SizeRange struct {
	Category Category `json:"category"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
}

var sizeTable = []SizeRange{
	{Category: CategoryPeewee, Min: 5, Max: 49},
	{Category: CategorySmall, Min: 50, Max: 54},
	{Category: CategoryMedium, Min: 55, Max: 60},
	{Category: CategoryLarge, Min: 61, Max: 64},
	{Category: CategoryExtraLarge, Min: 65, Max: 68},
	{Category: CategoryJumbo, Min: 69, Max: 499},
}

// Sizes returns every egg size, Peewee included, in ascending weight order.
func Sizes() []Category {
	out := make([]Category, len(sizeTable))
	for i, r := range sizeTable {
		out[i] = r.Category
	}
	return out
}

// Classify maps a weight in grams to its grading label.
//
// Table bounds are inclusive for whole grams. Fractional weights between two
// rows (49.5g) belong to the lower row: each row covers [Min, next row's Min).
// Negative and NaN weights are empty.
func Classify(weight float64) Category {
	if math.IsNaN(weight) || weight < EmptyBelow {
		return CategoryEmpty
	}
	if weight >= OverweightFrom {
		return CategoryOverweight
	}
	for i, r := range sizeTable {
		upper := OverweightFrom
		if i+1 < len(sizeTable) {
			upper = sizeTable[i+1].Min
		}
		if weight < upper {
			return r.Category
		}
	}
	return CategoryOverweight
}

// IsEgg reports whether the label stands for an egg on the load cell,
// overweight errors included.
func (c Category) IsEgg() bool {
	return c != CategoryEmpty && c != ""
}

// IsSize reports whether the label is one of the six size buckets.
func (c Category) IsSize() bool {
	for _, r := range sizeTable {
		if r.Category == c {
			return true
		}
	}
	return false
}

// IsStandard reports whether the label is a marketable size (S through Jumbo).
func (c Category) IsStandard() bool {
	return c.IsSize() && c != CategoryPeewee
}

// IsWarning is true for Peewee eggs.
func (c Category) IsWarning() bool {
	return c == CategoryPeewee
}

// IsError is true for overweight readings.
func (c Category) IsError() bool {
	return c == CategoryOverweight
}
