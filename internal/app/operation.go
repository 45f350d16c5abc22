package app

import "time"

// Operation tracks the CLI command being run. Commands that change the
// transaction log or session state mark it mutating; Close archives the log
// to the vault only for those.
type Operation struct {
	ID         string // invocation stamp, also written on every log line
	Name       string
	Parameters string
	Status     string // "success" or "error"
	mutating   bool
}

// NewOperation creates the record for a command started at now.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         now.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		Status:     "success",
	}
}

// MarkMutating records that the command changed persistent state.
func (op *Operation) MarkMutating() { op.mutating = true }

// Mutating reports whether MarkMutating was called.
func (op *Operation) Mutating() bool { return op.mutating }

// Fail marks the command as failed.
func (op *Operation) Fail() { op.Status = "error" }
