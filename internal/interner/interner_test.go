package interner

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternResolveRoundTrip(t *testing.T) {
	in := New()
	strs := []string{"alpha", "beta", "gamma", "alpha", "beta"}
	ids := make([]ID, len(strs))
	for i, s := range strs {
		ids[i] = in.Intern(s)
	}

	for i, s := range strs {
		got, ok := in.Resolve(ids[i])
		require.True(t, ok)
		assert.Equal(t, s, got)
	}

	assert.Equal(t, ids[0], ids[3], "re-interning the same string must return the same id")
	assert.Equal(t, ids[1], ids[4])
	assert.NotEqual(t, ids[0], ids[1])
}

func TestInsertionOrderIsStable(t *testing.T) {
	in := New()
	betaID := in.Intern("beta")
	alphaID := in.Intern("alpha")

	// "beta" was seen first, so it must sort before "alpha" despite not
	// being lexicographically first -- this is the insertion-order contract
	// exercised by packedtable's sort-by-name.
	require.True(t, betaID < alphaID)
}

func TestInternInjectiveUnderConcurrency(t *testing.T) {
	in := New()
	pool := make([]string, 1000)
	for i := range pool {
		pool[i] = string(rune('a'+i%26)) + string(rune('A'+(i/26)%26)) + string(rune('0'+i%10))
	}

	const threads = 8
	const itersPerThread = 100000 / threads

	var wg sync.WaitGroup
	results := make([][]ID, threads)
	for tid := 0; tid < threads; tid++ {
		tid := tid
		results[tid] = make([]ID, itersPerThread)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < itersPerThread; i++ {
				s := pool[(tid*7+i)%len(pool)]
				results[tid][i] = in.Intern(s)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, len(pool), in.Len(), "every distinct pool string should be interned exactly once")

	seen := make(map[string]ID)
	for tid := 0; tid < threads; tid++ {
		for i := 0; i < itersPerThread; i++ {
			s := pool[(tid*7+i)%len(pool)]
			id := results[tid][i]
			if prev, ok := seen[s]; ok {
				assert.Equal(t, prev, id, "same string must map to same id across threads")
			} else {
				seen[s] = id
			}
			resolved, ok := in.Resolve(id)
			require.True(t, ok)
			assert.Equal(t, s, resolved)
		}
	}
}
