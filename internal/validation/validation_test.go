package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEmail(t *testing.T) {
	valid := []string{
		"billing@acme.example",
		"jan.kowalski+invoices@firma.pl",
		"a@b.co",
	}
	for _, email := range valid {
		assert.True(t, IsValidEmail(email), email)
	}

	invalid := []string{
		"",
		"no-at-sign",
		"two@@acme.example",
		"spaces in@acme.example",
		"@acme.example",
		"user@",
		"user@nodot",
		strings.Repeat("a", 250) + "@b.co", // over 254 chars
	}
	for _, email := range invalid {
		assert.False(t, IsValidEmail(email), email)
	}
}

func TestIsValidCurrency(t *testing.T) {
	assert.True(t, IsValidCurrency("PLN"))
	assert.True(t, IsValidCurrency("usd"))
	assert.False(t, IsValidCurrency(""))
	assert.False(t, IsValidCurrency("PL"))
	assert.False(t, IsValidCurrency("ZLOTY"))
	assert.False(t, IsValidCurrency("P1N"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "he", SanitizeString("hello", 2))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestSanitizeEmail(t *testing.T) {
	assert.Equal(t, "billing@acme.example", SanitizeEmail("  Billing@Acme.Example "))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		ValidEmail("email", "not-an-email"),
		ValidCurrency("currency", "EUR"),
	)
	assert.Len(t, errs, 2)
	assert.Equal(t, "name", errs[0].Field)
	assert.Equal(t, "email", errs[1].Field)
	assert.Contains(t, errs.Error(), "name")

	errs = Validate(
		Required("name", "Acme"),
		ValidEmail("email", "billing@acme.example"),
	)
	assert.Empty(t, errs)
}

func TestPositiveAmount(t *testing.T) {
	assert.Nil(t, PositiveAmount("amount", 100)())
	assert.NotNil(t, PositiveAmount("amount", 0)())
	assert.NotNil(t, PositiveAmount("amount", -5)())
}

func TestMaxLength(t *testing.T) {
	assert.Nil(t, MaxLength("name", "short", 10)())
	assert.NotNil(t, MaxLength("name", "this is too long", 5)())
}

func TestValidationErrorsEmpty(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "validation failed", errs.Error())
}
