package fcm

import "strconv"

// Correlation is one result matched to the recipient that produced it.
type Correlation struct {
	// Key is the registration id, or the result's position when there is
	// no id for it.
	Key     string
	Index   int
	Matched bool
	Result  Result
}

// Correlate pairs ordered results with the ordered registration ids of the
// message that produced them. The server gives no recipient in a result, so
// position is the only link.
//
// Pairing walks both slices by index and stops at the shorter one. Ids
// without a result are ignored; results without an id keep their position
// as key. Every id is a valid key, including ones like "0".
func Correlate(ids []string, results []Result) []Correlation {
	out := make([]Correlation, len(results))
	for i, r := range results {
		c := Correlation{Key: strconv.Itoa(i), Index: i, Result: r}
		if i < len(ids) {
			c.Key = ids[i]
			c.Matched = true
		}
		out[i] = c
	}
	return out
}
