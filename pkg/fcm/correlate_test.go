package fcm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/fcm"
)

func keys(corr []fcm.Correlation) []string {
	out := make([]string, 0, len(corr))
	for _, c := range corr {
		out = append(out, c.Key)
	}
	return out
}

func TestCorrelate(t *testing.T) {
	r := func(id string) fcm.Result { return fcm.Result{MessageID: id} }

	testCases := []struct {
		name        string
		ids         []string
		results     []fcm.Result
		expectKeys  []string
		expectMatch []bool
	}{
		{
			name:        "Equal lengths",
			ids:         []string{"A", "B"},
			results:     []fcm.Result{r("m1"), r("m2")},
			expectKeys:  []string{"A", "B"},
			expectMatch: []bool{true, true},
		},
		{
			name:        "No ids keeps positions",
			results:     []fcm.Result{r("m1"), r("m2")},
			expectKeys:  []string{"0", "1"},
			expectMatch: []bool{false, false},
		},
		{
			name:        "Extra ids are ignored",
			ids:         []string{"A", "B", "C"},
			results:     []fcm.Result{r("m1")},
			expectKeys:  []string{"A"},
			expectMatch: []bool{true},
		},
		{
			name:        "Extra results keep their position",
			ids:         []string{"A"},
			results:     []fcm.Result{r("m1"), r("m2"), r("m3")},
			expectKeys:  []string{"A", "1", "2"},
			expectMatch: []bool{true, false, false},
		},
		{
			name:       "No results",
			ids:        []string{"A"},
			expectKeys: []string{},
		},
		{
			// A truthiness-driven loop would stop at "0" and leave "B"
			// unmatched; index-bounded pairing does not.
			name:        "Falsy-looking id does not stop pairing",
			ids:         []string{"A", "0", "B"},
			results:     []fcm.Result{r("m1"), r("m2"), r("m3")},
			expectKeys:  []string{"A", "0", "B"},
			expectMatch: []bool{true, true, true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			corr := fcm.Correlate(tc.ids, tc.results)
			require.Len(t, corr, len(tc.results))
			assert.Equal(t, tc.expectKeys, keys(corr))
			for i, c := range corr {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, tc.results[i], c.Result)
				assert.Equal(t, tc.expectMatch[i], c.Matched)
			}
		})
	}
}

func TestResponse_PositionalKeyNeverShadowsID(t *testing.T) {
	// Registration id "1" and the unmatched second result share a key.
	resp, err := fcm.NewResponse(envelope(
		map[string]any{"message_id": "for-id-1"},
		map[string]any{"message_id": "orphan"},
	), messageTo(t, "1"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"1": "for-id-1"}, resp.Result(fcm.FieldMessageID))
	assert.Len(t, resp.Correlations(), 2)
}
