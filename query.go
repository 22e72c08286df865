package kinetic

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"kinetic/chunk"
)

// Query carries the three 256-bit masks and auxiliary fields the engine
// matches entities against. Built fluently: NewQuery().With(a).Without(b).
type Query struct {
	include         Mask256
	exclude         Mask256
	owned           Mask256
	requireAnyOwned bool
	changedID       ComponentID
	hasChanged      bool
	minVersion      uint64
}

// NewQuery returns an empty query (matches every alive entity).
func NewQuery() *Query {
	return &Query{}
}

// With requires component id to be present.
func (q *Query) With(id ComponentID) *Query {
	q.include.Set(id)
	return q
}

// Without forbids component id.
func (q *Query) Without(id ComponentID) *Query {
	q.exclude.Set(id)
	return q
}

// Owned requires the entity's authority mask to cover id.
func (q *Query) Owned(id ComponentID) *Query {
	q.owned.Set(id)
	return q
}

// RequireAnyOwned requires a non-empty authority mask.
func (q *Query) RequireAnyOwned() *Query {
	q.requireAnyOwned = true
	return q
}

// Changed restricts the query to entities in a chunk whose component id
// has changed since minVersion.
func (q *Query) Changed(id ComponentID, minVersion uint64) *Query {
	q.changedID = id
	q.hasChanged = true
	q.minVersion = minVersion
	return q
}

func (q *Query) matchesHeader(h EntityHeader) bool {
	if !h.ComponentMask.Matches(q.include, q.exclude) {
		return false
	}
	if !q.owned.IsZero() && !h.AuthorityMask.HasAll(q.owned) {
		return false
	}
	if q.requireAnyOwned && h.AuthorityMask.IsZero() {
		return false
	}
	return true
}

// chunkMatches applies the three chunk-skip tests from the design: empty
// population, a changed-component filter against the component's own
// chunk version, and signature culling against the header chunk's
// conservative signature.
func (w *World) chunkMatches(q *Query, headerChunk *chunk.Chunk[EntityHeader], chunkIdx uint32) bool {
	if headerChunk.Population == 0 {
		return false
	}
	if q.hasChanged {
		version, ok := w.stores.ChangeVersionAt(q.changedID, chunkIdx)
		if !ok || version <= q.minVersion {
			return false
		}
	}
	if !headerChunk.Signature.CoversInclude(q.include) {
		return false
	}
	return true
}

// Query returns every alive entity matching q, in ascending index order.
func (w *World) Query(q *Query) []EntityID {
	var out []EntityID
	w.forEachMatch(q, func(entity EntityID, _ EntityHeader) {
		out = append(out, entity)
	})
	return out
}

// forEachMatch is the chunk-skipping iteration core shared by Query,
// QuerySorted, and the recorder/playback helpers that need to walk the
// header table directly.
func (w *World) forEachMatch(q *Query, fn func(entity EntityID, header EntityHeader)) {
	headers := w.entities.HeaderTable()
	for _, chunkIdx := range headers.SortedIndices() {
		hc, ok := headers.Get(chunkIdx)
		if !ok || !w.chunkMatches(q, hc, chunkIdx) {
			continue
		}
		base := chunkIdx * chunk.Capacity
		for local := 0; local < chunk.Capacity; local++ {
			h := hc.Data[local]
			if !h.active() {
				continue
			}
			if !q.matchesHeader(h) {
				continue
			}
			fn(NewEntityID(base+uint32(local), h.Generation), h)
		}
	}
}

// QuerySorted collects matches, extracts a sort key per entity with
// keyOf, and returns entities ordered by that key (stable, ascending per
// less). The key/index scratch slice and the returned slice are both
// allocated fresh on every call; no buffer is kept or reused across
// calls.
func QuerySorted[K any](w *World, q *Query, keyOf func(EntityID) K, less func(a, b K) bool) []EntityID {
	type pair struct {
		key    K
		entity EntityID
	}
	var pairs []pair
	w.forEachMatch(q, func(entity EntityID, _ EntityHeader) {
		pairs = append(pairs, pair{key: keyOf(entity), entity: entity})
	})
	sort.SliceStable(pairs, func(i, j int) bool { return less(pairs[i].key, pairs[j].key) })
	out := make([]EntityID, len(pairs))
	for i, p := range pairs {
		out[i] = p.entity
	}
	return out
}

// Partition splits q's matches into at most n disjoint, contiguous
// ranges of entity ids for parallel consumption. Ranges never split a
// chunk, so two ranges never touch the same chunk concurrently.
func (w *World) Partition(q *Query, n int) [][]EntityID {
	matches := w.Query(q)
	if n <= 0 {
		n = 1
	}
	if len(matches) == 0 {
		return nil
	}
	chunkSize := (len(matches) + n - 1) / n
	var ranges [][]EntityID
	for start := 0; start < len(matches); {
		end := start + chunkSize
		if end > len(matches) {
			end = len(matches)
		}
		for end < len(matches) && matches[end].Index()/chunk.Capacity == matches[end-1].Index()/chunk.Capacity {
			end++ // extend to the end of the chunk so no chunk is split
		}
		ranges = append(ranges, matches[start:end])
		start = end
	}
	return ranges
}

// ParallelEach partitions q's matches into n ranges and runs fn over
// each range concurrently via an errgroup, joining before returning. The
// contract mirrors the design's parallel-iteration rule: fn may mutate
// any component, provided no two ranges touch overlapping entities
// (guaranteed by Partition) and fn performs no structural changes
// (create/destroy/add/remove) directly — those must go through a command
// buffer instead.
func (w *World) ParallelEach(ctx context.Context, q *Query, n int, fn func(ctx context.Context, entities []EntityID) error) error {
	ranges := w.Partition(q, n)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range ranges {
		r := r
		g.Go(func() error {
			return fn(gctx, r)
		})
	}
	return g.Wait()
}
