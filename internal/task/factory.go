package task

// Factory creates and destroys tasks for the manager. Implementations decide
// the concrete inputs a task expects.
type Factory interface {
	Create() *Task
	Destroy(*Task)
}

// FactoryFunc adapts a constructor to Factory. Destroy releases the task's
// block references.
type FactoryFunc func() *Task

func (f FactoryFunc) Create() *Task { return f() }

func (f FactoryFunc) Destroy(t *Task) { t.Release() }

// NewFactory returns a Factory building tasks with numInput inputs.
func NewFactory(numInput int, opts ...Option) Factory {
	return FactoryFunc(func() *Task { return New(numInput, opts...) })
}
