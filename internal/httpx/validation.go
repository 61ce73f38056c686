package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
)

var (
	// ErrValidationFailed is returned when struct validation fails.
	ErrValidationFailed = errors.New("validation failed")
	// ErrBodyParseFailed is returned when request body parsing fails.
	ErrBodyParseFailed = errors.New("failed to parse request body")
	// ErrUnsupportedContentType is returned when the Content-Type is not application/json.
	ErrUnsupportedContentType = errors.New("Content-Type must be application/json")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidators() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name.
	vld.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := vld.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && value.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_decimal: %w", err)
	}

	// money: at most two fractional digits and within the balance column.
	if err := vld.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}
		return value.Equal(value.Truncate(ledger.Scale)) && value.Abs().LessThanOrEqual(ledger.MaxAmount)
	}); err != nil {
		return nil, fmt.Errorf("register money: %w", err)
	}

	return vld, nil
}

// Validator returns the shared validator instance.
func Validator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidators()
	})
	return validate, errValidate
}

// ValidateStruct validates payload against its validate tags and reports the first
// failing field.
func ValidateStruct(payload any) error {
	vld, err := Validator()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	if err := vld.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return formatFieldError(fieldErrs[0])
		}
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return nil
}

func formatFieldError(fe validator.FieldError) error {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: '%s' is required", ErrValidationFailed, field)
	case "min":
		return fmt.Errorf("%w: '%s' must be at least %s", ErrValidationFailed, field, fe.Param())
	case "max":
		return fmt.Errorf("%w: '%s' must be at most %s", ErrValidationFailed, field, fe.Param())
	case "email":
		return fmt.Errorf("%w: '%s' must be a valid email", ErrValidationFailed, field)
	case "uuid":
		return fmt.Errorf("%w: '%s' must be a valid UUID", ErrValidationFailed, field)
	case "eqfield":
		return fmt.Errorf("%w: '%s' must match '%s'", ErrValidationFailed, field, strings.ToLower(fe.Param()))
	case "positive_decimal":
		return fmt.Errorf("%w: '%s' must be greater than zero", ErrValidationFailed, field)
	case "money":
		return fmt.Errorf("%w: '%s' must have at most %d decimal places and not exceed %s",
			ErrValidationFailed, field, ledger.Scale, ledger.MaxAmount.StringFixed(ledger.Scale))
	default:
		return fmt.Errorf("%w: '%s' failed '%s' check", ErrValidationFailed, field, fe.Tag())
	}
}

// ParseBodyAndValidate parses the JSON request body into payload and validates it.
func ParseBodyAndValidate(c *fiber.Ctx, payload any) error {
	ct := c.Get(fiber.HeaderContentType)
	if ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
		return ErrUnsupportedContentType
	}

	if err := c.BodyParser(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrBodyParseFailed, err)
	}

	return ValidateStruct(payload)
}

// BadRequest converts a parse or validation failure into a 400 response error.
func BadRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}
