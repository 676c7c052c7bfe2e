package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type medication struct {
	Name     string `json:"name" validate:"required"`
	Dosage   string `json:"dosage" validate:"required"`
	Contact  string `json:"contact" validate:"omitempty,email"`
	Severity string `json:"severity" validate:"omitempty,oneof=low high"`
}

func TestValidateReportsFirstFieldByJSONName(t *testing.T) {
	v := New()

	err := v.Validate(medication{Name: "Amoxicillin"})
	assert.EqualError(t, err, "dosage is required")

	err = v.Validate(medication{})
	assert.EqualError(t, err, "name is required")
}

func TestValidateMessages(t *testing.T) {
	v := New()

	assert.EqualError(t, v.Validate(medication{Name: "a", Dosage: "b", Contact: "nope"}), "contact must be a valid email")
	assert.EqualError(t, v.Validate(medication{Name: "a", Dosage: "b", Severity: "mid"}), "severity must be one of: low high")
	assert.NoError(t, v.Validate(medication{Name: "a", Dosage: "b"}))
}
