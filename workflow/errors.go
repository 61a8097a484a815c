package workflow

import (
	"errors"
	"fmt"
)

// Load failures. Every *LoadError wraps exactly one of these.
var (
	ErrMissingTable   = errors.New("missing table")
	ErrMissingColumn  = errors.New("missing column")
	ErrBadChoiceList  = errors.New("not a choice list")
	ErrBadModuleName  = errors.New("empty or duplicated module name")
	ErrModuleEval     = errors.New("module evaluation failed")
	ErrUnresolved     = errors.New("function not found")
	ErrMissingLabel   = errors.New("missing action label")
	ErrMissingHandler = errors.New("missing onclick function")
)

// Runtime failures.
var (
	ErrMissingMapping = errors.New("Missing column mapping in widget settings")
	ErrStoreRequired  = errors.New("store is required")
	ErrTableRequired  = errors.New("selected table is required")
	ErrNoRecord       = errors.New("record has no id")
)

// LoadError reports why the modules or actions table could not be loaded.
// The engine stays unusable until Reload succeeds.
type LoadError struct {
	Table string // table being loaded
	Msg   string // what was wrong, naming the row or column
	Kind  error  // one of the Err* load sentinels
	Cause error  // underlying failure, may be nil
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *LoadError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func loadErr(table string, kind, cause error, format string, args ...interface{}) *LoadError {
	return &LoadError{Table: table, Msg: fmt.Sprintf(format, args...), Kind: kind, Cause: cause}
}

// ActionError is a handler failure caught at the executor boundary.
type ActionError struct {
	Label      string
	Invocation string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("Cannot execute «%s»: %v", e.Label, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// PredicateError is an activation predicate that failed instead of answering.
// It is reported like a load failure since the button list cannot be trusted.
type PredicateError struct {
	Label string
	Err   error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("Checking activation of <%s> action: %v", e.Label, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

// IsLoadFailure reports whether err makes the button list unusable until a reload.
func IsLoadFailure(err error) bool {
	var le *LoadError
	var pe *PredicateError
	return errors.As(err, &le) || errors.As(err, &pe)
}
