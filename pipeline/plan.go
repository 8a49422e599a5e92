package pipeline

import (
	"fmt"

	"github.com/dominikbraun/graph"

	"github.com/YallaPapi/i2v-sub001/errors"
)

// ValidatePlan verifies a step plan's lineage before anything is persisted:
// every upstream reference must exist, point one stage back, and the lineage
// edges must form a DAG. A pipeline is never created from an invalid plan.
func ValidatePlan(plan []StepSpec) error {
	if len(plan) == 0 {
		return errors.Validation("plan has no steps")
	}

	g := graph.New(graph.IntHash, graph.Directed(), graph.PreventCycles())

	for i, spec := range plan {
		if spec.Index != i {
			return errors.Validation(fmt.Sprintf("step %d carries plan index %d", i, spec.Index))
		}
		if err := g.AddVertex(i); err != nil {
			return errors.Internal(err)
		}
	}

	for i, spec := range plan {
		switch {
		case spec.Order == 1:
			if spec.UpstreamIndex != -1 {
				return errors.Validation(fmt.Sprintf("first-stage step %d references upstream %d", i, spec.UpstreamIndex))
			}
		case spec.UpstreamIndex < 0 || spec.UpstreamIndex >= len(plan):
			return errors.Validation(fmt.Sprintf("step %d references nonexistent upstream %d", i, spec.UpstreamIndex))
		default:
			upstream := plan[spec.UpstreamIndex]
			if upstream.Order != spec.Order-1 {
				return errors.Validation(fmt.Sprintf(
					"step %d at order %d consumes upstream at order %d", i, spec.Order, upstream.Order,
				))
			}
			if err := g.AddEdge(spec.UpstreamIndex, i); err != nil {
				return errors.Validation(fmt.Sprintf("step %d creates a lineage cycle", i)).WithCause(err)
			}
		}
	}

	return nil
}

// StageOrders returns the distinct step orders present in the plan, ascending.
func StageOrders(plan []StepSpec) []int {
	seen := make(map[int]bool)
	var orders []int
	for _, spec := range plan {
		if !seen[spec.Order] {
			seen[spec.Order] = true
			orders = append(orders, spec.Order)
		}
	}
	// Plans are built stage by stage, so orders arrive ascending already.
	return orders
}
