package buildgraph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelia/internal/kernelerr"
	"mycelia/internal/validate"
)

type fakeInstalled struct {
	facets map[FacetKind]*Facet
}

func newFakeInstalled() *fakeInstalled {
	return &fakeInstalled{facets: make(map[FacetKind]*Facet)}
}

func (f *fakeInstalled) existing(kind FacetKind) (*Facet, bool) {
	facet, ok := f.facets[kind]
	return facet, ok
}

func (f *fakeInstalled) set(kind FacetKind, facet *Facet) {
	f.facets[kind] = facet
}

func (f *fakeInstalled) remove(kind FacetKind) {
	delete(f.facets, kind)
}

func TestExecuteRollsBackAllOnFailure(t *testing.T) {
	graph := NewGraph(nil)
	set := newFakeInstalled()

	var disposed []string

	makeOK := func(kind FacetKind) func(ctx *Context) (*Facet, error) {
		return func(ctx *Context) (*Facet, error) {
			k := kind
			return &Facet{Kind: k, Attach: true, OnDispose: func() {
				disposed = append(disposed, string(k))
			}}, nil
		}
	}

	hooks := []Hook{
		{Kind: "A", Make: makeOK("A")},
		{Kind: "B", Make: makeOK("B")},
		{Kind: "C", Make: func(ctx *Context) (*Facet, error) {
			return nil, fmt.Errorf("C.onInit exploded")
		}},
	}

	_, err := graph.Execute(&Context{}, hooks, set.existing, set.set, set.remove)
	require.Error(t, err)

	_, hasA := set.existing("A")
	_, hasB := set.existing("B")
	_, hasC := set.existing("C")
	assert.False(t, hasA)
	assert.False(t, hasB)
	assert.False(t, hasC)
	assert.ElementsMatch(t, []string{"A", "B"}, disposed)

	correctedHooks := []Hook{
		{Kind: "A", Make: makeOK("A")},
		{Kind: "B", Make: makeOK("B")},
		{Kind: "C", Make: makeOK("C")},
	}
	frame, err := graph.Execute(&Context{}, correctedHooks, set.existing, set.set, set.remove)
	require.NoError(t, err)
	assert.Len(t, frame.installed, 3)
	_, hasA = set.existing("A")
	_, hasB = set.existing("B")
	_, hasC = set.existing("C")
	assert.True(t, hasA)
	assert.True(t, hasB)
	assert.True(t, hasC)
}

func TestVerifyOrdersByRequiredDependencies(t *testing.T) {
	graph := NewGraph(nil)

	make := func(kind FacetKind) func(ctx *Context) (*Facet, error) {
		return func(ctx *Context) (*Facet, error) {
			return &Facet{Kind: kind, Attach: true}, nil
		}
	}

	hooks := []Hook{
		{Kind: KindScheduler, Required: []FacetKind{KindQueue, KindProcessor}, Make: make(KindScheduler)},
		{Kind: KindProcessor, Required: []FacetKind{KindQueue, KindRouter}, Make: make(KindProcessor)},
		{Kind: KindRouter, Required: []FacetKind{KindListeners, KindStatistics}, Make: make(KindRouter)},
		{Kind: KindQueue, Make: make(KindQueue)},
		{Kind: KindListeners, Make: make(KindListeners)},
		{Kind: KindStatistics, Make: make(KindStatistics)},
	}

	order, err := graph.Verify(hooks)
	require.NoError(t, err)

	index := make2(order)
	assert.Less(t, index[KindQueue], index[KindScheduler])
	assert.Less(t, index[KindProcessor], index[KindScheduler])
	assert.Less(t, index[KindQueue], index[KindProcessor])
	assert.Less(t, index[KindRouter], index[KindProcessor])
	assert.Less(t, index[KindListeners], index[KindRouter])
	assert.Less(t, index[KindStatistics], index[KindRouter])
}

func make2(order []FacetKind) map[FacetKind]int {
	idx := make(map[FacetKind]int, len(order))
	for i, k := range order {
		idx[k] = i
	}
	return idx
}

func TestVerifyDetectsCycle(t *testing.T) {
	graph := NewGraph(nil)
	noop := func(ctx *Context) (*Facet, error) { return &Facet{Attach: true}, nil }

	hooks := []Hook{
		{Kind: "A", Required: []FacetKind{"B"}, Make: noop},
		{Kind: "B", Required: []FacetKind{"A"}, Make: noop},
	}

	_, err := graph.Verify(hooks)
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.BuildCycle))
}

func TestVerifyCachesBySortedKindSet(t *testing.T) {
	graph := NewGraph(nil)
	calls := 0
	noop := func(ctx *Context) (*Facet, error) {
		calls++
		return &Facet{Attach: true}, nil
	}

	hooks := []Hook{
		{Kind: "A", Make: noop},
		{Kind: "B", Required: []FacetKind{"A"}, Make: noop},
	}

	order1, err := graph.Verify(hooks)
	require.NoError(t, err)
	order2, err := graph.Verify(hooks)
	require.NoError(t, err)
	assert.Equal(t, order1, order2)

	// Verify never invokes Make; only Execute does.
	assert.Equal(t, 0, calls)
}

func TestExecuteSkipsExistingFacetUnlessOverwritten(t *testing.T) {
	graph := NewGraph(nil)
	set := newFakeInstalled()
	set.facets["A"] = &Facet{Kind: "A", Attach: true, Value: "original"}

	madeNew := false
	hooks := []Hook{
		{Kind: "A", Make: func(ctx *Context) (*Facet, error) {
			madeNew = true
			return &Facet{Kind: "A", Attach: true, Value: "replacement"}, nil
		}},
	}

	_, err := graph.Execute(&Context{}, hooks, set.existing, set.set, set.remove)
	require.NoError(t, err)
	assert.False(t, madeNew)
	facet, _ := set.existing("A")
	assert.Equal(t, "original", facet.Value)

	hooks[0].ShouldOverwrite = func(existing *Facet) bool { return true }
	_, err = graph.Execute(&Context{}, hooks, set.existing, set.set, set.remove)
	require.NoError(t, err)
	assert.True(t, madeNew)
	facet, _ = set.existing("A")
	assert.Equal(t, "replacement", facet.Value)
}

func TestExecuteValidatesConfigAgainstRegisteredSchema(t *testing.T) {
	schemas := validate.NewSchemaSet()
	require.NoError(t, schemas.Register("queue-config", []byte(`{
		"type": "object",
		"properties": {"capacity": {"type": "integer", "minimum": 1}},
		"required": ["capacity"]
	}`)))

	graph := NewGraph(schemas)
	set := newFakeInstalled()

	badHook := []Hook{{
		Kind:         KindQueue,
		ConfigSchema: "queue-config",
		Config:       map[string]any{"capacity": float64(0)},
		Make:         func(ctx *Context) (*Facet, error) { return &Facet{Attach: true}, nil },
	}}
	_, err := graph.Execute(&Context{}, badHook, set.existing, set.set, set.remove)
	assert.Error(t, err)

	goodHook := []Hook{{
		Kind:         KindQueue,
		ConfigSchema: "queue-config",
		Config:       map[string]any{"capacity": float64(1024)},
		Make:         func(ctx *Context) (*Facet, error) { return &Facet{Attach: true}, nil },
	}}
	_, err = graph.Execute(&Context{}, goodHook, set.existing, set.set, set.remove)
	assert.NoError(t, err)
}

func TestMergeHooksUserOverridesDefaultSameKind(t *testing.T) {
	defaultMake := func(ctx *Context) (*Facet, error) { return &Facet{Value: "default"}, nil }
	userMake := func(ctx *Context) (*Facet, error) { return &Facet{Value: "user"}, nil }

	defaults := []Hook{{Kind: "A", Make: defaultMake}, {Kind: "B", Make: defaultMake}}
	user := []Hook{{Kind: "A", Make: userMake}}

	merged := MergeHooks(defaults, user)
	require.Len(t, merged, 2)

	byKind := map[FacetKind]Hook{}
	for _, h := range merged {
		byKind[h.Kind] = h
	}
	facetA, _ := byKind["A"].Make(&Context{})
	assert.Equal(t, "user", facetA.Value)
	facetB, _ := byKind["B"].Make(&Context{})
	assert.Equal(t, "default", facetB.Value)
}
