// Package buildsys implements the task graph behind sitebuild. Builtin tasks are Go functions; a project can add
// its own tasks with a Starlark script (tasks.star) whose commands run in mvdan.cc/sh's portable shell.
// Tasks depend on other tasks either in series or in parallel and every task runs at most once per invocation.
package buildsys
