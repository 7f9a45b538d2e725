package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// Error codes written by BindAndValidate. Both use the {error, message} body the
// handlers share; validation failures add a fields map of namespace to tag.
const (
	CodeInvalidBody      = "invalid_request_body"
	CodeValidationFailed = "validation_failed"
)

// BindAndValidate decodes the JSON body into req and validates it. On failure the
// 400 is already written and the returned error only tells the handler to stop.
func BindAndValidate(c *gin.Context, req any, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   CodeInvalidBody,
			"message": "Request body is not valid JSON for this endpoint",
		})
		return err
	}

	if err := v.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   CodeValidationFailed,
			"message": "One or more fields are missing or invalid",
			"fields":  validationErrorsToMap(err),
		})
		return err
	}
	return nil
}

// validationErrorsToMap keys each failure by its JSON namespace, e.g.
// "GenerateOrderRequest.items[0].fontFamilyId" -> "family_id".
func validationErrorsToMap(err error) map[string]string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"error": err.Error()}
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}
