package orm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors. The typed errors below match them with errors.Is.
var (
	// ErrModelNotFound is returned when a fetch that requires rows found none.
	ErrModelNotFound = errors.New("model not found")
	// ErrRelationNotFound is returned for a relation name the schema does not declare.
	ErrRelationNotFound = errors.New("relation not found")
	// ErrMassAssignment is returned when a totally guarded model is mass-filled.
	ErrMassAssignment = errors.New("mass assignment violation")
	// ErrSerialization is returned when a model or attribute can't be encoded.
	ErrSerialization = errors.New("serialization failed")
	// ErrLogic marks caller ordering and usage bugs.
	ErrLogic = errors.New("logic error")
	// ErrNoConnection is returned when a schema's connection is not registered.
	ErrNoConnection = errors.New("no connection")
)

// ModelNotFoundError is returned by FirstOrFail, FindOrFail and FindManyOrFail.
type ModelNotFoundError struct {
	Model string
	IDs   []interface{}
}

func (e *ModelNotFoundError) Error() string {
	msg := fmt.Sprintf("no query results for model [%s]", e.Model)
	if len(e.IDs) > 0 {
		ids := make([]string, len(e.IDs))
		for i, id := range e.IDs {
			ids[i] = fmt.Sprint(id)
		}
		msg += " " + strings.Join(ids, ", ")
	}
	return msg
}

// Is reports whether target is ErrModelNotFound.
func (e *ModelNotFoundError) Is(target error) bool {
	return target == ErrModelNotFound
}

// RelationNotFoundError names the schema and the relation that was asked for.
type RelationNotFoundError struct {
	Model    string
	Relation string
}

func (e *RelationNotFoundError) Error() string {
	return fmt.Sprintf("call to undefined relationship [%s] on model [%s]", e.Relation, e.Model)
}

// Is reports whether target is ErrRelationNotFound.
func (e *RelationNotFoundError) Is(target error) bool {
	return target == ErrRelationNotFound
}

// MassAssignmentError names the attribute rejected by a totally guarded model.
type MassAssignmentError struct {
	Model string
	Key   string
}

func (e *MassAssignmentError) Error() string {
	return fmt.Sprintf("add [%s] to fillable property to allow mass assignment on [%s]", e.Key, e.Model)
}

// Is reports whether target is ErrMassAssignment.
func (e *MassAssignmentError) Is(target error) bool {
	return target == ErrMassAssignment
}

// SerializationError wraps an encoding failure. Key is empty when the whole
// model failed.
type SerializationError struct {
	Model string
	Key   string
	Cause error
}

func (e *SerializationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("unable to encode attribute [%s] for model [%s]: %v", e.Key, e.Model, e.Cause)
	}
	return fmt.Sprintf("error encoding model [%s] to JSON: %v", e.Model, e.Cause)
}

// Is reports whether target is ErrSerialization.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

// Unwrap returns the underlying encoding error.
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// LogicError reports misuse of the API, such as calling a scope without the
// parameters it needs. Builders panic with a *LogicError.
type LogicError struct {
	Msg string
	Err error
}

func (e *LogicError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Is reports whether target is ErrLogic.
func (e *LogicError) Is(target error) bool {
	return target == ErrLogic
}

// Unwrap returns the cause, if any.
func (e *LogicError) Unwrap() error {
	return e.Err
}

func logicErrorf(format string, args ...interface{}) *LogicError {
	return &LogicError{Msg: fmt.Sprintf(format, args...)}
}
