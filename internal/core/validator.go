package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"praiafinder/internal/types"
)

// Validator wraps go-playground/validator with the domain tags:
//
//	mode   a known activity mode (legacy aliases accepted)
//	water  all, marine or inland_water
//
// Struct fields may carry an `errcode` tag naming the types.ErrorCode
// reported when they fail; the default is validation_missing_required_field
// for "required" and validation_invalid_number otherwise.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator with the domain tags registered.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their query/json name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	mustRegister(v, "mode", func(fl validator.FieldLevel) bool {
		_, ok := types.ParseMode(fl.Field().String())
		return ok
	})
	mustRegister(v, "water", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "all", string(types.WaterTypeMarine), string(types.WaterTypeInland):
			return true
		}
		return false
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidateStruct validates s and converts the first failure into a
// *types.AppError. Later failures are listed under details.fields.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}

	first := verrs[0]
	return types.NewAppErrorWithDetails(
		codeFor(s, first),
		messageFor(first),
		err,
		map[string]any{"field": first.Field(), "fields": fields},
	)
}

func codeFor(s any, fe validator.FieldError) types.ErrorCode {
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		if f, ok := t.FieldByName(fe.StructField()); ok {
			if code := f.Tag.Get("errcode"); code != "" {
				return types.ErrorCode(code)
			}
		}
	}
	if fe.Tag() == "required" {
		return types.ErrCodeValidationMissingField
	}
	return types.ErrCodeValidationInvalidNumber
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with":
		return fmt.Sprintf("%s is required", fe.Field())
	case "mode":
		return fmt.Sprintf("%s must be one of family, surf, snorkel", fe.Field())
	case "water":
		return fmt.Sprintf("%s must be one of all, marine, inland_water", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "latitude":
		return fmt.Sprintf("%s must be between -90 and 90", fe.Field())
	case "longitude":
		return fmt.Sprintf("%s must be between -180 and 180", fe.Field())
	case "gte", "lte", "gt", "lt", "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
