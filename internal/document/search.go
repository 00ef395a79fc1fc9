package document

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	// MinQueryLength is the shortest query that is searched at all.
	MinQueryLength = 2
	// MaxSearchResults caps the number of hits returned by Search.
	MaxSearchResults = 50
)

var folder = cases.Fold()

// Search returns the indices of words containing query, ignoring case. Only
// the first MaxSearchResults hits are returned.
func (d Document) Search(query string) []int {
	if len([]rune(query)) < MinQueryLength {
		return nil
	}
	needle := folder.String(query)

	var results []int
	for i, w := range d.Words {
		if strings.Contains(folder.String(w), needle) {
			results = append(results, i)
			if len(results) == MaxSearchResults {
				break
			}
		}
	}
	return results
}
