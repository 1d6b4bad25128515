package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDocumentType(t *testing.T) {
	assert.Equal(t, "Executive Order", FormatDocumentType("executive_order"))
	assert.Equal(t, "Proposed Rule", FormatDocumentType("proposed_rule"))
	assert.Equal(t, "Notice", FormatDocumentType("notice"))
	assert.Equal(t, "Unspecified", FormatDocumentType(""))
	assert.Equal(t, "Unspecified", FormatDocumentType("null"))
}
