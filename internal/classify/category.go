// Package classify maps upstream taxonomy labels onto the normalized category set.
package classify

// Category is one value of the normalized taxonomy.
type Category string

// Normalized categories.
const (
	Politics      Category = "politics"
	Economy       Category = "economy"
	Society       Category = "society"
	International Category = "international"
	Culture       Category = "culture"
	Sports        Category = "sports"
	Science       Category = "science"
	Technology    Category = "technology"
	Health        Category = "health"
	Provinces     Category = "provinces"
	Other         Category = "other"
)

// All lists every normalized category.
var All = []Category{
	Politics, Economy, Society, International, Culture, Sports,
	Science, Technology, Health, Provinces, Other,
}

// Valid reports whether c belongs to the normalized set.
func Valid(c Category) bool {
	for _, candidate := range All {
		if c == candidate {
			return true
		}
	}
	return false
}
