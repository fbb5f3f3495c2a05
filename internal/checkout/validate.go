package checkout

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/storefront/internal/api"
)

// MinPhoneDigits is the shortest accepted phone number.
const MinPhoneDigits = 7

var postalCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 -]{1,8}[A-Za-z0-9]$`)

// Details is the shipping and payment form.
type Details struct {
	FullName      string            `json:"fullName" validate:"required"`
	Address       string            `json:"address" validate:"required"`
	City          string            `json:"city" validate:"required"`
	PostalCode    string            `json:"postalCode" validate:"required,postal_code"`
	Country       string            `json:"country" validate:"required"`
	Phone         string            `json:"phone" validate:"required,phone"`
	Email         string            `json:"email" validate:"required,email"`
	PaymentMethod api.PaymentMethod `json:"paymentMethod" validate:"required,payment_method"`
}

func (d Details) trimmed() Details {
	d.FullName = strings.TrimSpace(d.FullName)
	d.Address = strings.TrimSpace(d.Address)
	d.City = strings.TrimSpace(d.City)
	d.PostalCode = strings.TrimSpace(d.PostalCode)
	d.Country = strings.TrimSpace(d.Country)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Email = strings.TrimSpace(d.Email)
	d.PaymentMethod = api.PaymentMethod(strings.TrimSpace(string(d.PaymentMethod)))
	return d
}

// ShippingAddress is the address block of the order request.
func (d Details) ShippingAddress() api.ShippingAddress {
	d = d.trimmed()
	return api.ShippingAddress{
		FullName:   d.FullName,
		Address:    d.Address,
		City:       d.City,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

// ValidationError maps form fields (by JSON name) to a message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid checkout details: " + strings.Join(parts, "; ")
}

// Validator checks Details locally.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("postal_code", func(fl validator.FieldLevel) bool {
		return postalCodePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return validPhone(fl.Field().String())
	})
	_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		return api.PaymentMethod(fl.Field().String()).Valid()
	})
	return &Validator{v: v}
}

// Validate returns nil or a *ValidationError.
func (val *Validator) Validate(d Details) error {
	err := val.v.Struct(d.trimmed())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate checkout details: %w", err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "postal_code":
		return "must be a valid postal code"
	case "phone":
		return fmt.Sprintf("must contain at least %d digits", MinPhoneDigits)
	case "payment_method":
		return "must be card, paypal or cash_on_delivery"
	default:
		return "is invalid"
	}
}

// validPhone accepts digits with common separators and an optional leading
// plus, requiring MinPhoneDigits digits.
func validPhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= MinPhoneDigits
}
