package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

func TestStructUsesJSONNames(t *testing.T) {
	v := New()
	err := v.Struct(sample{Email: "nope"})
	require.Error(t, err)
	msg := Describe(err)
	assert.Contains(t, msg, "name failed required")
	assert.Contains(t, msg, "email failed email")
}

func TestVar(t *testing.T) {
	v := New()
	assert.NoError(t, v.Var("buyer@example.com", "email"))
	assert.Error(t, v.Var("buyer@", "email"))
}

func TestDescribeNil(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
}
