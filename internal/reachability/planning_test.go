package reachability

import (
	"reflect"
	"testing"

	recursiveremote "github.com/t7a/recursive-remote"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func weak(s string) recursiveremote.WeakHash {
	sum := recursiveremote.HashBytes([]byte(s))
	var w recursiveremote.WeakHash
	copy(w[:], sum[:recursiveremote.WeakHashSize])
	return w
}

func TestPlanPushRevsetDedupsAndFormats(t *testing.T) {
	a, b, c := weak("a"), weak("b"), weak("c")
	include, exclude := PlanPushRevset([]recursiveremote.WeakHash{a, a, b}, []recursiveremote.WeakHash{c, c})
	tassert(t, len(include) == 2, "expected 2 include entries, got %d: %v", len(include), include)
	tassert(t, len(exclude) == 1, "expected 1 exclude entry, got %d: %v", len(exclude), exclude)
	tassert(t, exclude[0] == c.String(), "exclude mismatch: %v", exclude)
}

func TestPlanPushRevsetSkipsZero(t *testing.T) {
	var zero recursiveremote.WeakHash
	include, exclude := PlanPushRevset([]recursiveremote.WeakHash{zero}, []recursiveremote.WeakHash{zero})
	tassert(t, len(include) == 0, "expected no includes for a zero weak hash")
	tassert(t, len(exclude) == 0, "expected no excludes for a zero weak hash")
}

type fakeWalker struct {
	records map[recursiveremote.Address]fakeRecord
}

type fakeRecord struct {
	packs   []recursiveremote.Address
	parents []recursiveremote.Address
}

func (w *fakeWalker) Load(a recursiveremote.Address) ([]recursiveremote.Address, []recursiveremote.Address, bool, error) {
	r, ok := w.records[a]
	if !ok {
		return nil, nil, false, nil
	}
	return r.packs, r.parents, true, nil
}

func addr(s string) recursiveremote.Address { return recursiveremote.HashBytes([]byte(s)) }

func TestPlanFetchPacksLinearHistory(t *testing.T) {
	gen1, gen2, gen3 := addr("gen1"), addr("gen2"), addr("gen3")
	pack1, pack2, pack3 := addr("pack1"), addr("pack2"), addr("pack3")

	w := &fakeWalker{records: map[recursiveremote.Address]fakeRecord{
		gen3: {packs: []recursiveremote.Address{pack3}, parents: []recursiveremote.Address{gen2}},
		gen2: {packs: []recursiveremote.Address{pack2}, parents: []recursiveremote.Address{gen1}},
		gen1: {packs: []recursiveremote.Address{pack1}, parents: nil},
	}}

	var zero recursiveremote.Address
	packs, err := PlanFetchPacks(w, gen3, zero)
	tassert(t, err == nil, "PlanFetchPacks: %v", err)
	tassert(t, reflect.DeepEqual(packs, []recursiveremote.Address{pack1, pack2, pack3}),
		"expected oldest-first order, got %v", packs)
}

func TestPlanFetchPacksStopsAtBasis(t *testing.T) {
	gen1, gen2, gen3 := addr("gen1"), addr("gen2"), addr("gen3")
	pack2, pack3 := addr("pack2"), addr("pack3")

	w := &fakeWalker{records: map[recursiveremote.Address]fakeRecord{
		gen3: {packs: []recursiveremote.Address{pack3}, parents: []recursiveremote.Address{gen2}},
		gen2: {packs: []recursiveremote.Address{pack2}, parents: []recursiveremote.Address{gen1}},
	}}

	packs, err := PlanFetchPacks(w, gen3, gen2)
	tassert(t, err == nil, "PlanFetchPacks: %v", err)
	tassert(t, reflect.DeepEqual(packs, []recursiveremote.Address{pack3}),
		"expected only the tip's own pack, got %v", packs)
}

func TestPlanFetchPacksEmptyTip(t *testing.T) {
	w := &fakeWalker{records: map[recursiveremote.Address]fakeRecord{}}
	var zero recursiveremote.Address
	packs, err := PlanFetchPacks(w, zero, zero)
	tassert(t, err == nil, "PlanFetchPacks: %v", err)
	tassert(t, len(packs) == 0, "expected no packs for a zero tip, got %v", packs)
}
