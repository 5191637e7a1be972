package format

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-tools/utac/core"
)

func TestFormatSuccessHasSummary(t *testing.T) {
	result := core.SourceResult{Status: 200, Message: "done", Data: map[string]interface{}{"x": 1}}
	out := Format(result, NaturalLanguageConfig{})
	assert.Equal(t, core.ResultSuccess, out.Kind)
	assert.NotEmpty(t, out.Conversational.Summary)
	assert.Equal(t, result.Data, out.Data)
}

func TestFormatNonErrorNon2xxIsPartial(t *testing.T) {
	result := core.SourceResult{Status: 404, Message: "not found", Data: nil}
	out := Format(result, NaturalLanguageConfig{})
	assert.Equal(t, core.ResultPartial, out.Kind)
}

func TestFormatErrorValidationIncludesFieldsAndSuggestion(t *testing.T) {
	err := core.NewValidationError("execute", []core.FieldError{{Field: "query", Message: "required", Code: "required"}})
	out := FormatError(err, NaturalLanguageConfig{})
	assert.Equal(t, core.ResultError, out.Kind)
	assert.NotEmpty(t, out.Conversational.Summary)
	assert.NotEmpty(t, out.Conversational.Suggestion)
	assert.Contains(t, out.Conversational.Details, "query")
	require.True(t, out.Valid())
}

func TestFormatErrorExecutionKeepsOriginalMessage(t *testing.T) {
	err := core.NewExecutionError("execute", "upstream API timed out", errors.New("dial tcp: timeout"))
	out := FormatError(err, NaturalLanguageConfig{})
	assert.Equal(t, "upstream API timed out", out.Conversational.Summary)
}

func TestFormatErrorAdmissionExposesRetryAfter(t *testing.T) {
	err := core.NewAdmissionError("execute", "rate_limit_exceeded", 500, core.ErrRateLimitExceeded)
	out := FormatError(err, NaturalLanguageConfig{})
	assert.Equal(t, int64(500), out.Metadata["retryAfterMs"])
}

func TestFormatErrorUnknownDoesNotLeakMessage(t *testing.T) {
	err := errors.New("panic: index out of range [5] with length 3")
	out := FormatError(err, NaturalLanguageConfig{})
	assert.Equal(t, core.ResultError, out.Kind)
	assert.NotContains(t, out.Conversational.Summary, "index out of range")
}

func TestFormatErrorAlwaysValid(t *testing.T) {
	errs := []error{
		core.NewValidationError("op", nil),
		core.NewExecutionError("op", "", nil),
		core.NewAdmissionError("op", "breaker_open", 0, core.ErrCircuitBreakerOpen),
		errors.New("unmapped"),
	}
	for _, err := range errs {
		out := FormatError(err, NaturalLanguageConfig{})
		assert.True(t, out.Valid(), "kind=error must always carry a summary")
	}
}

func TestRenderMarkdownFallsBackOnPlainText(t *testing.T) {
	out := render("just text, no markdown", false)
	assert.Equal(t, "just text, no markdown", out)
}

func TestRenderMarkdownProducesHTML(t *testing.T) {
	out := render("**bold**", true)
	assert.Contains(t, out, "<strong>bold</strong>")
}
