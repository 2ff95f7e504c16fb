package core

// validation.go checks operator requests before anything reaches the backend.
//
// Struct tags drive the checks; failures are reported as a single error
// marked ErrValidation whose text names every offending field, so the
// operator can fix them in one pass.

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// CreateSessionRequest is the input to SessionStore.Create.
type CreateSessionRequest struct {
	Schema  string `json:"schema" validate:"required"`
	Mode    Mode   `json:"mode" validate:"omitempty,oneof='Insert New Records' 'Update Existing Records'"`
	FileRef string `json:"file_ref" validate:"required"`
}

// TemplateRequest is the input to TemplateBuilder.Build.
// Mandatory fields of Schema are exported whether or not Fields names them.
type TemplateRequest struct {
	Schema     string      `json:"schema" validate:"required"`
	Mode       Mode        `json:"mode" validate:"omitempty,oneof='Insert New Records' 'Update Existing Records'"`
	Fields     []string    `json:"fields" validate:"required_without=AllFields,dive,required"`
	AllFields  bool        `json:"all_fields"`
	FileType   FileType    `json:"file_type" validate:"omitempty,oneof=CSV Excel"`
	Scope      RecordScope `json:"scope" validate:"omitempty,oneof=blank sample all"`
	SampleSize int         `json:"sample_size" validate:"gte=0,lte=1000"`
}

// validateRequest runs struct validation and folds failures into one ErrValidation.
func validateRequest(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Mark(errors.Wrap(err, "validate request"), ErrValidation)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return errors.Mark(errors.New(strings.Join(msgs, "; ")), ErrValidation)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", fe.Field())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
