package engine

import "flow-manager/pkg/models"

// Evaluate selects the routing target for a just-finished task step.
// Conditions are filtered to those whose source task matches, then
// scanned twice: the first pass takes the first exact-outcome match in
// declaration order, the second pass (only when the first found nothing)
// takes the first "any"-outcome match in declaration order. An exact
// match therefore wins over an "any" match regardless of where it is
// declared. The winning condition contributes its success target when the
// task succeeded, its failure target otherwise.
//
// ok is false when no condition matches (NoRoute); the engine treats that
// as an implicit terminal state, not an error.
func Evaluate(conditions []models.Condition, sourceTask string, outcome models.Outcome) (target string, ok bool) {
	if cond := matchCondition(conditions, sourceTask, outcome); cond != nil {
		return cond.Target(outcome), true
	}
	return "", false
}

func matchCondition(conditions []models.Condition, sourceTask string, outcome models.Outcome) *models.Condition {
	for i := range conditions {
		if conditions[i].SourceTask == sourceTask && conditions[i].Outcome == outcome {
			return &conditions[i]
		}
	}
	for i := range conditions {
		if conditions[i].SourceTask == sourceTask && conditions[i].Outcome == models.OutcomeAny {
			return &conditions[i]
		}
	}
	return nil
}
