package compiler

import "fmt"

// AnalyzerError reports a label, relationship type, property, alias,
// or parameter that cannot be resolved against the active view or the
// exported aliases of an enclosing WITH boundary.
type AnalyzerError struct {
	// Identifier is the unresolved name.
	Identifier string
	// Context says where the identifier was found.
	Context string
}

// Error implements the error interface.
func (e *AnalyzerError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("analyzer error: cannot resolve %q: %s", e.Identifier, e.Context)
	}
	return fmt.Sprintf("analyzer error: cannot resolve %q", e.Identifier)
}

// PlanningError reports a structural invariant violated while building
// or transforming the plan.
type PlanningError struct {
	// Clause names the clause context in which the violation surfaced.
	Clause string
	Msg    string
}

// Error implements the error interface.
func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning error in %s: %s", e.Clause, e.Msg)
}

// RenderError reports that code generation could not locate a source
// column for a referenced alias. It always indicates an upstream
// analyzer bug, never a user error, so the pipeline surfaces it loudly
// instead of emitting wrong SQL.
type RenderError struct {
	Alias string
	Msg   string
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("render error on %q: %s", e.Alias, e.Msg)
}

func analyzerErrf(identifier, format string, args ...any) *AnalyzerError {
	return &AnalyzerError{Identifier: identifier, Context: fmt.Sprintf(format, args...)}
}

func planningErrf(clause, format string, args ...any) *PlanningError {
	return &PlanningError{Clause: clause, Msg: fmt.Sprintf(format, args...)}
}

func renderErrf(alias, format string, args ...any) *RenderError {
	return &RenderError{Alias: alias, Msg: fmt.Sprintf(format, args...)}
}
