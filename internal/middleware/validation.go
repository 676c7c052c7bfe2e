package middleware

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
	"github.com/jwalitptl/rx-api/pkg/validator"
)

// RegisterValidation names binding errors after json fields. Call once when
// building the engine.
func RegisterValidation() {
	if v, ok := binding.Validator.Engine().(*playground.Validate); ok {
		v.RegisterTagNameFunc(validator.JSONTagName)
	}
}

// BindingError turns a gin binding failure into a Validation error carrying
// the first field message.
func BindingError(err error) error {
	var verrs playground.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.NewValidation(validator.Message(verrs[0]))
	}
	return apperrors.NewValidation("invalid request body")
}
