// Package models defines the domain models for the flow manager service.
package models

import (
	"fmt"
	"time"
)

// Outcome classifies the result of a single task execution. Conditions
// additionally use OutcomeAny to match either result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAny     Outcome = "any"
)

// EndTarget is the terminal routing marker: a condition target equal to
// this value stops the run instead of naming a next task.
const EndTarget = "end"

// TaskDef declares a task inside a flow definition. The description is
// metadata only; behavior is resolved by name through the task registry.
type TaskDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Condition is a routing rule: when the task named by SourceTask finishes
// with a matching outcome, the run continues at TargetTaskSuccess or
// TargetTaskFailure depending on whether the task succeeded or failed.
// Either target may be EndTarget.
type Condition struct {
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	SourceTask        string  `json:"source_task"`
	Outcome           Outcome `json:"outcome"`
	TargetTaskSuccess string  `json:"target_task_success"`
	TargetTaskFailure string  `json:"target_task_failure"`
}

// Target returns the condition's routing target for the given task outcome.
func (c *Condition) Target(outcome Outcome) string {
	if outcome == OutcomeSuccess {
		return c.TargetTaskSuccess
	}
	return c.TargetTaskFailure
}

// Flow is an immutable-per-version definition of a task sequence with
// conditional routing. It is read-only to the execution engine.
type Flow struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	StartTask   string      `json:"start_task"`
	Tasks       []TaskDef   `json:"tasks,omitempty"`
	Conditions  []Condition `json:"conditions,omitempty"`
	IsActive    bool        `json:"is_active"`
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TaskByName returns the declaration for the named task, or nil.
func (f *Flow) TaskByName(name string) *TaskDef {
	for i := range f.Tasks {
		if f.Tasks[i].Name == name {
			return &f.Tasks[i]
		}
	}
	return nil
}

// TaskNames returns the declared task names in declaration order.
func (f *Flow) TaskNames() []string {
	names := make([]string, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		names = append(names, t.Name)
	}
	return names
}

// Validate checks the structural invariants of a flow definition: the id,
// name and start task are present, the start task is declared, task names
// are unique, and every condition references declared tasks (or EndTarget)
// with a valid outcome.
func (f *Flow) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("flow id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if len(f.Tasks) == 0 {
		return fmt.Errorf("flow must declare at least one task")
	}
	if f.StartTask == "" {
		return fmt.Errorf("start_task is required")
	}

	declared := make(map[string]bool, len(f.Tasks))
	for _, t := range f.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task name is required")
		}
		if declared[t.Name] {
			return fmt.Errorf("duplicate task name: %q", t.Name)
		}
		declared[t.Name] = true
	}

	if !declared[f.StartTask] {
		return fmt.Errorf("start_task %q not found in task definitions", f.StartTask)
	}

	for _, c := range f.Conditions {
		if c.Name == "" {
			return fmt.Errorf("condition name is required")
		}
		switch c.Outcome {
		case OutcomeSuccess, OutcomeFailure, OutcomeAny:
		default:
			return fmt.Errorf("condition %q: invalid outcome %q", c.Name, c.Outcome)
		}
		if !declared[c.SourceTask] {
			return fmt.Errorf("condition %q: source task %q not found in task definitions", c.Name, c.SourceTask)
		}
		for _, target := range []string{c.TargetTaskSuccess, c.TargetTaskFailure} {
			if target != EndTarget && !declared[target] {
				return fmt.Errorf("condition %q: target %q is not a declared task or %q", c.Name, target, EndTarget)
			}
		}
	}
	return nil
}
