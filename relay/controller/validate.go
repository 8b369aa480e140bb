package controller

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"

	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

var validate = newValidator()

// newValidator reports fields under their wire names so validation details
// match what the client actually sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks the struct's validate tags and renders failures as a
// 422 with field-level details.
func validateRequest(req any) *relaymodel.ErrorWithStatusCode {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var details []relaymodel.ValidationDetail
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			details = append(details, relaymodel.ValidationDetail{
				Loc:  []string{"body", strings.ToLower(fe.Field())},
				Msg:  fmt.Sprintf("failed %q validation", fe.Tag()),
				Type: "value_error",
			})
		}
	}
	return relaymodel.ValidationError("request validation failed", details)
}
