package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankroll-service/pkg/models"
)

func TestValidateRequiredFields(t *testing.T) {
	row := models.Row{"data": "2024-03-05", "tipo": "aporte", "valor": 100.0}
	res := Validate(row, "transacoes", nil)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)

	missingRow := models.Row{"data": "2024-03-05", "valor": 100.0}
	res = Validate(missingRow, "transacoes", nil)
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "tipo", res.Errors[0].Field)
}

func TestValidateEmptyStringCountsAsMissing(t *testing.T) {
	row := models.Row{"data": "2024-03-05", "tipo": "  ", "valor": 1.0}
	res := Validate(row, "transacoes", nil)
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "tipo", res.Errors[0].Field)
}

func TestValidateUnknownTableIsTrivial(t *testing.T) {
	res := Validate(models.Row{}, "tabela_inexistente", nil)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestValidateDuplicateIDWarning(t *testing.T) {
	seen := map[string]struct{}{"abc": {}}
	row := models.Row{"id": "abc", "data": "2024-03-05", "tipo": "aporte", "valor": 1.0}
	res := Validate(row, "transacoes", seen)
	assert.True(t, res.IsValid, "duplicate id is a warning, not an error")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "id", res.Warnings[0].Field)
}
