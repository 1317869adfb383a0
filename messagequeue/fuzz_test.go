package messagequeue

import (
	"context"
	"strings"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/pathtree"
)

// TestFuzzHierarchyVisibility checks that a send to path p is visible to
// GetMessages(q) iff q is a prefix of p, over a large set of randomly
// generated path segments.
func TestFuzzHierarchyVisibility(t *testing.T) {
	// alphanumeric segments only; this package treats a segment as an
	// opaque string so the exact alphabet doesn't matter, but it keeps
	// failure output readable.
	unicodeRanges := fuzz.UnicodeRanges{
		{First: 0x30, Last: 0x39},
		{First: 0x41, Last: 0x5A},
		{First: 0x61, Last: 0x7A},
	}
	f := fuzz.New().NilChance(0).NumElements(1, 4).Funcs(unicodeRanges.CustomStringFuzzFunc())

	q := newTestQueue[int](t)
	ctx := context.Background()

	const n = 300
	type sent struct {
		path    pathtree.Path
		payload int
	}
	var all []sent

	for i := 0; i < n; i++ {
		var raw []string
		f.Fuzz(&raw)

		// path segments must be non-empty; drop any empty strings the
		// fuzzer produced rather than sending a malformed path.
		segs := raw[:0]
		for _, s := range raw {
			if s != "" {
				segs = append(segs, s)
			}
		}

		require.NoError(t, q.Send(ctx, segs, i))
		all = append(all, sent{path: segs, payload: i})
	}

	prefixes := map[string]pathtree.Path{"": nil}
	for _, s := range all {
		for depth := 0; depth <= len(s.path); depth++ {
			p := pathtree.Path(s.path[:depth])
			prefixes[pathKeyStr(p)] = p
		}
	}

	for _, prefix := range prefixes {
		var want []int
		for _, s := range all {
			if isPrefixOf(prefix, s.path) {
				want = append(want, s.payload)
			}
		}

		msgs, err := q.GetMessages(ctx, prefix, ids.None)
		require.NoError(t, err)
		require.Len(t, msgs, len(want))
		for i, m := range msgs {
			assert.Equal(t, want[i], m.Payload)
		}
	}
}

func isPrefixOf(prefix, path pathtree.Path) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

func pathKeyStr(path pathtree.Path) string {
	return strings.Join(path, "/")
}
