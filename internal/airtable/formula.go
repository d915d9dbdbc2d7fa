package airtable

import (
	"fmt"
	"strings"
)

// EscapeFormulaValue doubles single quotes so user data can sit inside a
// {Field}='value' comparison without breaking the formula.
func EscapeFormulaValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// FieldEquals builds a {Field}='value' comparison.
func FieldEquals(field, value string) string {
	return fmt.Sprintf("{%s}='%s'", field, EscapeFormulaValue(value))
}

// StatusIn builds an OR() formula matching any of the given statuses, the shape
// every engine uses to pull its work set.
func StatusIn(field string, statuses ...string) string {
	if len(statuses) == 1 {
		return FieldEquals(field, statuses[0])
	}
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, FieldEquals(field, s))
	}
	return "OR(" + strings.Join(parts, ",") + ")"
}

// Checked builds a {Field}=TRUE() test for checkbox columns.
func Checked(field string) string {
	return fmt.Sprintf("{%s}=TRUE()", field)
}
