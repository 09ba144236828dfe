package modelplan

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/modelplan/clause"
	"gorm.io/modelplan/errtranslator"
	"gorm.io/modelplan/utils"
)

// FindOrCreateOptions options of FindOrCreate
type FindOrCreateOptions struct {
	FindOptions
	// Defaults are the values of a created row besides the equalities of Where
	Defaults map[string]interface{}
}

// FindOrCreate finds the row matching options.Where or creates it. A unique violation
// raised by a concurrent create of the same row is resolved by finding that row again.
// The boolean reports whether the row was created.
func (m *Model) FindOrCreate(ctx context.Context, options FindOrCreateOptions) (*Instance, bool, error) {
	if clause.IsEmpty(options.Where) {
		return nil, false, fmt.Errorf("%w: missing where attribute in the options parameter passed to %s.FindOrCreate", ErrMissingWhereClause, m.Name)
	}
	if err := m.db.ready(); err != nil {
		return nil, false, err
	}

	if len(options.Defaults) > 0 {
		var unknown []string
		for name := range options.Defaults {
			if m.LookUpAttribute(name) == nil {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			m.db.Logger.Warn(ctx, "unknown attributes %v passed to defaults option of %s.FindOrCreate", unknown, m.Name)
		}
	}

	var (
		result  *Instance
		created bool
	)
	err := m.db.Transaction(ctx, func(ctx context.Context) error {
		found, err := m.FindOne(ctx, &options.FindOptions)
		if err != nil {
			return err
		}
		if found != nil {
			result = found
			return nil
		}

		values := map[string]interface{}{}
		for name, value := range clause.Equalities(options.Where) {
			values[name] = value
		}
		for name, value := range options.Defaults {
			values[name] = value
		}

		// a failed insert must not abort the enclosing transaction
		var instance *Instance
		createErr := m.db.Transaction(ctx, func(ctx context.Context) (err error) {
			instance, err = m.Create(ctx, values, CreateOptions{SkipHooks: options.SkipHooks})
			return err
		})
		if createErr == nil {
			if m.PrimaryKey != nil && instance.dataValues[m.PrimaryKey.Name] == nil {
				return &errtranslator.UniqueConstraintError{Message: fmt.Sprintf("%s.FindOrCreate: the created row has no primary key", m.Name)}
			}
			result, created = instance, true
			return nil
		}

		var unique *errtranslator.UniqueConstraintError
		if !errors.As(createErr, &unique) {
			return createErr
		}
		if err := m.checkUniqueViolation(unique, options); err != nil {
			return err
		}

		other, err := m.FindOne(ctx, &options.FindOptions)
		if err != nil {
			return err
		}
		if other == nil {
			return createErr
		}
		result = other
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// checkUniqueViolation decides whether a unique violation concerns the row FindOrCreate
// looks for. A violation of the defaults only is returned, as is one whose where values
// differ from the values the driver reported.
func (m *Model) checkUniqueViolation(unique *errtranslator.UniqueConstraintError, options FindOrCreateOptions) error {
	equalities := clause.Equalities(options.Where)

	whereFields := make([]string, 0, len(equalities))
	for _, name := range clause.Columns(options.Where) {
		whereFields = append(whereFields, m.FieldName(name))
	}
	var defaultFields []string
	for name := range options.Defaults {
		if attr := m.Attributes[name]; attr != nil {
			defaultFields = append(defaultFields, attr.Field)
		}
	}

	errFields := unique.FieldNames()
	whereIntersects := intersects(errFields, whereFields)
	if len(defaultFields) > 0 && !whereIntersects && intersects(errFields, defaultFields) {
		return unique
	}

	if whereIntersects {
		for _, field := range errFields {
			attr := m.LookUpAttribute(field)
			if attr == nil {
				continue
			}
			expected, ok := equalities[attr.Name]
			if !ok {
				continue
			}
			if utils.ToString(expected) != unique.Fields[field] {
				return fmt.Errorf("%s.FindOrCreate: value used for %s was not equal for both the find and the create calls, %q vs %q: %w",
					m.Name, attr.Name, utils.ToString(expected), unique.Fields[field], unique)
			}
		}
	}
	return nil
}

func intersects(a, b []string) bool {
	for _, value := range a {
		if utils.Contains(b, value) {
			return true
		}
	}
	return false
}
