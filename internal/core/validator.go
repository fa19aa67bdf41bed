package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"weedtrack/internal/types"
)

// ValidationError describes one failed field rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects field errors and non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IsValid reports whether no errors were recorded. Warnings do not count.
func (r ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

// Validator wraps go-playground/validator and registers the domain tags:
//
//	latitude         float in [-90, 90]
//	longitude        float in [-180, 180]
//	plan_status      one of types.PlanStatuses
//	treatment_method precision, zone or broadcast
//	mitigation_status pending or completed
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered. Field
// names in errors use the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("registering %s validation: %v", tag, err))
		}
	}
	must("latitude", validateFloatRange(types.MinLat, types.MaxLat))
	must("longitude", validateFloatRange(types.MinLon, types.MaxLon))
	must("plan_status", func(fl validator.FieldLevel) bool {
		return types.PlanStatus(fl.Field().String()).Valid()
	})
	must("treatment_method", func(fl validator.FieldLevel) bool {
		return types.TreatmentMethod(fl.Field().String()).Valid()
	})
	must("mitigation_status", func(fl validator.FieldLevel) bool {
		return types.MitigationStatus(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

// validateFloatRange accepts float and int kinds (and pointers to them, which
// validator dereferences before calling) within [lo, hi].
func validateFloatRange(lo, hi float64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		var f float64
		switch fl.Field().Kind() {
		case reflect.Float32, reflect.Float64:
			f = fl.Field().Float()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(fl.Field().Int())
		default:
			return false
		}
		return f >= lo && f <= hi
	}
}

// ValidateStruct validates s and returns a *types.AppError whose code is
// that of the first failing field. All failures are listed under the
// "validation_errors" detail.
func (v *Validator) ValidateStruct(s any) error {
	res := v.ValidateStructWithWarnings(s)
	if res.IsValid() {
		return nil
	}
	first := res.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{"validation_errors": res.Errors},
	)
}

// ValidateStructWithWarnings runs validation and returns every failure.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	var res ValidationResult
	err := v.validate.Struct(s)
	if err == nil {
		return res
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		res.Errors = append(res.Errors, ValidationError{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidJSON),
			Message: "request could not be validated",
		})
		return res
	}
	for _, fe := range verrs {
		res.Errors = append(res.Errors, ValidationError{
			Field:   fieldPath(fe),
			Code:    tagToErrorCode(fe.Tag()),
			Message: messageFor(fe),
		})
	}
	return res
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_without", "required_with", "required_if":
		return string(types.ErrCodeValidationMissingField)
	case "latitude":
		return string(types.ErrCodeValidationInvalidLat)
	case "longitude":
		return string(types.ErrCodeValidationInvalidLon)
	case "plan_status", "mitigation_status":
		return string(types.ErrCodeValidationInvalidStatus)
	case "treatment_method":
		return string(types.ErrCodeValidationInvalidMethod)
	case "dive":
		return string(types.ErrCodeValidationInvalidArea)
	default:
		return string(types.ErrCodeValidationInvalidField)
	}
}

func messageFor(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "latitude":
		return fmt.Sprintf("%s must be a latitude between %v and %v", field, types.MinLat, types.MaxLat)
	case "longitude":
		return fmt.Sprintf("%s must be a longitude between %v and %v", field, types.MinLon, types.MaxLon)
	case "plan_status":
		return fmt.Sprintf("%s must be one of %v", field, types.PlanStatuses)
	case "treatment_method":
		return fmt.Sprintf("%s must be precision, zone or broadcast", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
