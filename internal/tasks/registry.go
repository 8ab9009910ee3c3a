package tasks

import "fmt"

// DuplicateTaskError reports an attempt to register a task under a name
// that is already taken. Registration conflicts are surfaced explicitly
// instead of silently overwriting the earlier task.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task already registered: %s", e.Name)
}

// UnknownTaskError reports a lookup for a name with no registered task.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("task not registered: %s", e.Name)
}

// Registry maps task names to executable behavior. It is populated once
// during process startup and read concurrently without locking afterwards;
// Register must not be called once the registry is being served.
type Registry struct {
	tasks map[string]Task
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task under its declared name. It fails with
// DuplicateTaskError when the name is already registered.
func (r *Registry) Register(task Task) error {
	name := task.Name()
	if name == "" {
		return fmt.Errorf("task has no name")
	}
	if _, exists := r.tasks[name]; exists {
		return &DuplicateTaskError{Name: name}
	}
	r.tasks[name] = task
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the task registered under name, or UnknownTaskError.
func (r *Registry) Resolve(name string) (Task, error) {
	task, ok := r.tasks[name]
	if !ok {
		return nil, &UnknownTaskError{Name: name}
	}
	return task, nil
}

// Has reports whether a task is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.tasks[name]
	return ok
}

// List returns the registered tasks in registration order.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, Info{Name: name, Description: r.tasks[name].Description()})
	}
	return infos
}
