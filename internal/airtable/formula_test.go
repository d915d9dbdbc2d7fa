package airtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldEquals_EscapesQuotes(t *testing.T) {
	assert.Equal(t, "{Status}='NEW'", FieldEquals("Status", "NEW"))
	assert.Equal(t, "{Owner}='O''Brien'", FieldEquals("Owner", "O'Brien"))
}

func TestStatusIn(t *testing.T) {
	assert.Equal(t, "{Status}='NEW'", StatusIn("Status", "NEW"))
	assert.Equal(t, "OR({Status}='NEW',{Status}='FOLLOW_UP')", StatusIn("Status", "NEW", "FOLLOW_UP"))
}

func TestChecked(t *testing.T) {
	assert.Equal(t, "{Active}=TRUE()", Checked("Active"))
}
