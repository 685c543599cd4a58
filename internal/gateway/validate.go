package gateway

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

func newValidator() *validator.Validate {
	v := validator.New()
	// report wire names, not Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

func (c *Client) check(payload interface{}) error {
	err := c.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &domain.ApiError{Code: domain.CodeValidationError, Message: err.Error(), Cause: err}
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must have at least %s item(s) or characters", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL", field))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation for %s", field, fe.Tag()))
		}
	}
	return &domain.ApiError{Code: domain.CodeValidationError, Message: strings.Join(messages, "; "), Cause: err}
}

func requireID(name, id string) error {
	if strings.TrimSpace(id) == "" {
		return &domain.ApiError{Code: domain.CodeValidationError, Message: name + " is required"}
	}
	return nil
}
