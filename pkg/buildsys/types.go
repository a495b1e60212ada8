package buildsys

import (
	"context"
	"strconv"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/sitebuild/pkg/paths"
)

// TaskCmd is one entry in a task's cmds list. Either a shell script or a reference to another task.
type TaskCmd interface {
	ToTask() (*Task, error)
	ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error)
}

// TaskCmdScript is a shell snippet. TaskName and Index only show up in parse errors.
type TaskCmdScript struct {
	TaskName string
	Content  string
	Index    int
}

func (s TaskCmdScript) ToTask() (*Task, error) {
	return nil, nil
}

func (s TaskCmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	file, err := parser.Parse(strings.NewReader(s.Content), s.TaskName+":"+strconv.Itoa(s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %q", s.Content)
	}

	return file.Stmts, nil
}

// TaskCmdTaskRef runs a (usually anonymous) task in place
type TaskCmdTaskRef struct {
	Task *Task
}

func (r TaskCmdTaskRef) ToTask() (*Task, error) {
	return r.Task, nil
}

func (r TaskCmdTaskRef) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

// Action is the Go implementation of a builtin task
type Action func(ctx context.Context) error

// Task describes a single node in the task graph. Builtin tasks carry an Action, script tasks carry Cmds.
type Task struct {
	Env          map[string]string
	Short        string
	Desc         string
	Base         string
	Inputs       []string
	Deps         []string
	SkipIfExists []string
	Outputs      []string
	Cmds         []TaskCmd
	Hidden       bool

	// Parallel runs all Deps at the same time instead of one after another
	Parallel bool
	// Service tasks run until the context is cancelled. They don't occupy one of the parallel workers.
	Service bool
	Action  Action
}

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// Add registers the task under its short name
func (l TaskList) Add(task *Task) *Task {
	if task.Base == "" {
		task.Base = "."
	}
	if task.Env == nil {
		task.Env = map[string]string{}
	}

	l[task.Short] = task
	return task
}

// Series registers a hidden task that runs the named tasks one after another and returns its name
func (l TaskList) Series(names ...string) string {
	task := l.Add(&Task{
		Short:  "series#" + nanoid.New(),
		Desc:   "series(" + strings.Join(names, ", ") + ")",
		Deps:   names,
		Hidden: true,
	})
	return task.Short
}

// Parallel registers a hidden task that runs the named tasks concurrently and returns its name
func (l TaskList) Parallel(names ...string) string {
	task := l.Add(&Task{
		Short:    "parallel#" + nanoid.New(),
		Desc:     "parallel(" + strings.Join(names, ", ") + ")",
		Deps:     names,
		Hidden:   true,
		Parallel: true,
	})
	return task.Short
}

// Merge copies all tasks from other into this list. Name collisions are reported as errors.
func (l TaskList) Merge(other TaskList) error {
	for name, task := range other {
		if _, exists := l[name]; exists {
			return eris.Errorf(`the task name "%s" is already taken by a builtin task, please use a different name`, name)
		}
		l[name] = task
	}

	return nil
}

// Visible returns the names of all tasks that aren't hidden
func (l TaskList) Visible() []string {
	names := make([]string, 0, len(l))
	for name, task := range l {
		if !task.Hidden {
			names = append(names, name)
		}
	}

	return names
}

// Validate makes sure that every dependency exists and that the graph contains no cycles
func (l TaskList) Validate() error {
	const (
		unvisited = iota
		visiting
		visited
	)

	marks := make(map[*Task]int, len(l))
	var visit func(task *Task, trail []string) error
	visit = func(task *Task, trail []string) error {
		switch marks[task] {
		case visited:
			return nil
		case visiting:
			return eris.Errorf("dependency cycle detected: %s -> %s", strings.Join(trail, " -> "), task.Short)
		}

		marks[task] = visiting
		trail = append(trail, task.Short)

		for _, dep := range task.Deps {
			depTask, ok := l[dep]
			if !ok {
				return eris.Errorf("Task %s depends on %s which doesn't exist", task.Short, dep)
			}

			if err := visit(depTask, trail); err != nil {
				return err
			}
		}

		for _, cmd := range task.Cmds {
			sub, err := cmd.ToTask()
			if err != nil {
				return err
			}

			if sub != nil {
				if err := visit(sub, trail); err != nil {
					return err
				}
			}
		}

		marks[task] = visited
		return nil
	}

	for _, task := range l {
		if err := visit(task, nil); err != nil {
			return err
		}
	}

	return nil
}

// ScriptOption is an option declared by a task script with option()
type ScriptOption struct {
	DefaultValue string
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue
}

// Script is the result of evaluating a task script
type Script struct {
	Tasks   TaskList
	Options map[string]ScriptOption
	// Paths contains the path table overrides declared with paths()
	Paths map[paths.Category]paths.Entry
}

var (
	_ starlark.Value      = (*Task)(nil)
	_ starlark.Comparable = StarlarkPath("")
	_ starlark.Sliceable  = StarlarkPath("")
)

// *Task is passed to scripts so that task() results can be used in cmds lists

func (t *Task) String() string {
	if t.Hidden {
		return "<hidden task>"
	}
	return "<task " + t.Short + ">"
}

func (t *Task) Type() string          { return "task" }
func (t *Task) Freeze()               {}
func (t *Task) Truth() starlark.Bool  { return starlark.True }
func (t *Task) Hash() (uint32, error) { return 0, eris.New("tasks can't be used as dict keys") }

// StarlarkPath is an absolute path returned by resolve_path() and glob(). It behaves like a string but
// commands receive it relative to the task's base directory.
type StarlarkPath string

func (p StarlarkPath) str() starlark.String { return starlark.String(p) }

func (p StarlarkPath) String() string        { return p.str().String() }
func (p StarlarkPath) Type() string          { return "path" }
func (p StarlarkPath) Freeze()               {}
func (p StarlarkPath) Truth() starlark.Bool  { return p != "" }
func (p StarlarkPath) Hash() (uint32, error) { return p.str().Hash() }
func (p StarlarkPath) Len() int              { return len(p) }

func (p StarlarkPath) Index(i int) starlark.Value { return p.str().Index(i) }

func (p StarlarkPath) Slice(start, end, step int) starlark.Value {
	return p.str().Slice(start, end, step)
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, other starlark.Value, depth int) (bool, error) {
	return p.str().CompareSameType(op, other.(StarlarkPath).str(), depth)
}
