package modelplan

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/modelplan/logger"
)

var (
	// ErrEmptyResult no row matched and rejectOnEmpty is set
	ErrEmptyResult = logger.ErrEmptyResult
	// ErrInvalidInclude include is neither a model, an association, an alias nor include options
	ErrInvalidInclude = errors.New("invalid include")
	// ErrAmbiguousInclude the included model is associated more than once
	ErrAmbiguousInclude = errors.New("ambiguous include")
	// ErrNoAssociation the models are not associated
	ErrNoAssociation = errors.New("association does not exist")
	// ErrUnsafeIncludeAll include all with options other than nested
	ErrUnsafeIncludeAll = errors.New("include all does not allow extra options")
	// ErrSeparateNotHasMany separate loading of an association that is not HasMany
	ErrSeparateNotHasMany = errors.New("only HasMany associations support separate")
	// ErrMissingWhereClause destructive bulk operation without where
	ErrMissingWhereClause = errors.New("WHERE conditions required")
	// ErrInvalidPrimaryKey primary key value of an unsupported type
	ErrInvalidPrimaryKey = errors.New("invalid primary key value")
	// ErrUnknownScope the scope is not defined on the model
	ErrUnknownScope = errors.New("invalid scope")
	// ErrAddScopeOnVariant scopes can only be added to the initial model
	ErrAddScopeOnVariant = errors.New("scopes can only be added to the initial model")
	// ErrScopeExists the scope is already defined
	ErrScopeExists = errors.New("scope already exists")
	// ErrOptimisticLock the version attribute did not match
	ErrOptimisticLock = errors.New("optimistic lock error")
	// ErrNotParanoid restore of a model without soft delete
	ErrNotParanoid = errors.New("model is not paranoid")
	// ErrModelNotDefined model name is unknown
	ErrModelNotDefined = errors.New("model not defined")
	// ErrMissingExecutor operation needs a query generator and an executor
	ErrMissingExecutor = errors.New("query generator and executor are required")
	// ErrValidation instance failed validation
	ErrValidation = errors.New("validation error")
	// ErrInstanceNotFound instance does not exist anymore
	ErrInstanceNotFound = errors.New("instance not found")
)

// OptimisticLockError reports an update that matched no row because the version changed
type OptimisticLockError struct {
	Model   string
	Values  map[string]interface{}
	Where   map[string]interface{}
	Message string
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("%s: attempting to update a stale model instance of %s, %s", ErrOptimisticLock, e.Model, e.Message)
}

func (e *OptimisticLockError) Is(target error) bool { return target == ErrOptimisticLock }

// ValidationError collects the failed attributes of one instance
type ValidationError struct {
	Model  string
	Fields map[string]error
	names  []string
}

func (e *ValidationError) add(attribute string, err error) {
	if e.Fields == nil {
		e.Fields = map[string]error{}
	}
	if _, ok := e.Fields[attribute]; !ok {
		e.names = append(e.names, attribute)
	}
	e.Fields[attribute] = err
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.names))
	for _, name := range e.names {
		messages = append(messages, fmt.Sprintf("%s: %v", name, e.Fields[name]))
	}
	return fmt.Sprintf("%s on %s: %s", ErrValidation, e.Model, strings.Join(messages, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
