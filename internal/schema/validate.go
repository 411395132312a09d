package schema

import (
	"fmt"
	"strings"

	"bankroll-service/pkg/models"
)

// ValidationResult reports the outcome of validating a single coerced row.
// Errors are fatal (row excluded from the diff); warnings are informational.
type ValidationResult struct {
	IsValid  bool
	Errors   []models.RowError
	Warnings []models.RowError
}

// Validate checks one coerced row against the table's required-field rules.
// seenIDs carries the identifiers already observed in this batch so duplicate
// ids coming from the sheet can be flagged (last occurrence wins downstream).
// Unknown tables validate trivially — there is no schema to enforce.
func Validate(row models.Row, table string, seenIDs map[string]struct{}) ValidationResult {
	res := ValidationResult{IsValid: true}

	sch, known := SchemaOf(table)
	if known {
		for _, col := range sch.Columns {
			if !col.Required {
				continue
			}
			if missing(row[col.Name]) {
				res.IsValid = false
				res.Errors = append(res.Errors, models.RowError{
					Field:   col.Name,
					Message: fmt.Sprintf("campo obrigatório %q ausente", col.Name),
				})
			}
		}
	}

	if id := row.ID(); id != "" && seenIDs != nil {
		if _, dup := seenIDs[id]; dup {
			res.Warnings = append(res.Warnings, models.RowError{
				Field:   "id",
				Message: fmt.Sprintf("id %q duplicado na planilha; a última ocorrência prevalece", id),
			})
		}
	}

	return res
}

func missing(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
