package schema

import (
	"fmt"

	"github.com/blazeorm/blaze"
)

// ValidateRecord runs the full validation pass over a record: required
// fields, string length, choices, then any custom validators. Failures
// are aggregated per field; a nil return means the record is valid.
func ValidateRecord(r *Record) error {
	agg := &blaze.ValidationError{}
	for _, f := range r.Type().ColumnFields() {
		value := r.Get(f.Name)
		if value == nil {
			if !f.Nullable && !f.AutoIncrement {
				agg.Add(f.Name, "value may not be null")
			}
			continue
		}
		if f.MaxLen > 0 {
			if s, ok := value.(string); ok && len(s) > f.MaxLen {
				agg.Add(f.Name, fmt.Sprintf("length %d exceeds maximum %d", len(s), f.MaxLen))
			}
		}
		if len(f.Choices) > 0 && !among(value, f.Choices) {
			agg.Add(f.Name, fmt.Sprintf("%v is not a valid choice", value))
		}
		for _, validate := range f.Validators {
			if err := validate(value); err != nil {
				agg.Add(f.Name, err.Error())
			}
		}
	}
	if agg.Empty() {
		return nil
	}
	return agg
}

func among(value any, choices []any) bool {
	for _, c := range choices {
		if c == value {
			return true
		}
	}
	return false
}
