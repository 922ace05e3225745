package graph

import (
	"slices"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/resolve"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	mapset "github.com/deckarep/golang-set/v2"
)

type factState struct {
	exists bool
	active bool
}

type factDiff struct {
	created     []string
	reactivated []string
	retracted   []string
	dropped     []string
}

// captureStates records the state of every fact in plan before the
// document's previous provenance is retracted.
func captureStates(tx *store.Tx, plan *resolve.Plan) map[string]factState {
	states := make(map[string]factState, len(plan.Nodes)+len(plan.Edges))
	for _, n := range plan.Nodes {
		cur, ok := tx.Node(n.ID)
		states[n.ID] = factState{exists: ok, active: ok && cur.Active()}
	}
	for _, e := range plan.Edges {
		cur, ok := tx.Edge(e.Key())
		id := e.ID
		if ok {
			id = cur.ID
		}
		states[id] = factState{exists: ok, active: ok && cur.Active()}
	}
	return states
}

// diffFacts compares the facts the document supported before the update
// with the facts the new plan supports.
func diffFacts(tx *store.Tx, plan *resolve.Plan, before map[string]factState, previous store.Retraction) factDiff {
	supported := mapset.NewThreadUnsafeSet[string]()
	for _, n := range plan.Nodes {
		supported.Add(n.ID)
	}
	for _, e := range plan.Edges {
		if cur, ok := tx.Edge(e.Key()); ok {
			supported.Add(cur.ID)
		}
	}

	prior := mapset.NewThreadUnsafeSet[string](previous.Nodes...)
	prior.Append(previous.Edges...)

	var d factDiff
	supported.Each(func(id string) bool {
		st := before[id]
		switch {
		case !st.exists:
			d.created = append(d.created, id)
		case !st.active && stagedActive(tx, id):
			d.reactivated = append(d.reactivated, id)
		}
		return false
	})

	d.dropped = prior.Difference(supported).ToSlice()
	for _, id := range d.dropped {
		if !stagedActive(tx, id) {
			d.retracted = append(d.retracted, id)
		}
	}

	slices.Sort(d.created)
	slices.Sort(d.reactivated)
	slices.Sort(d.retracted)
	slices.Sort(d.dropped)
	return d
}

func stagedActive(tx *store.Tx, id string) bool {
	if n, ok := tx.Node(id); ok {
		return n.Active()
	}
	if e, ok := tx.EdgeByID(id); ok {
		return e.Active()
	}
	return false
}
