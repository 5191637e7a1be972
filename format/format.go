// Package format implements the Result Formatter (C9): it wraps a
// SourceResult, or an error raised anywhere upstream in the pipeline, into
// the conversational AdapterResult envelope from §3.
package format

import (
	"bytes"
	"errors"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nexus-tools/utac/core"
)

// NaturalLanguageConfig is the adapter's natural-language hint set, used to
// phrase a success summary and to decorate error suggestions.
type NaturalLanguageConfig struct {
	SuccessSummary string // used verbatim as the success summary; no placeholder is substituted
	ErrorSuggestion string // generic recovery hint shown alongside validation errors
	RenderMarkdown bool   // when true, Details/Suggestion are rendered from markdown to HTML
}

// Format converts a successful SourceResult into an AdapterResult. §4.9
// requires a non-empty conversational.summary on every result this
// produces.
func Format(result core.SourceResult, cfg NaturalLanguageConfig) core.AdapterResult {
	summary := cfg.SuccessSummary
	if summary == "" {
		summary = defaultSuccessSummary(result)
	}
	out := core.AdapterResult{
		Kind:    core.ResultSuccess,
		Message: result.Message,
		Data:    result.Data,
		Conversational: core.Conversational{
			Summary: render(summary, cfg.RenderMarkdown),
		},
	}
	if result.Status >= 200 && result.Status < 300 || result.Status == 0 {
		return out
	}
	// A non-2xx status with no error means the source tool flagged a
	// partial outcome without raising.
	out.Kind = core.ResultPartial
	return out
}

// FormatError translates an error raised anywhere in the pipeline into an
// AdapterResult with kind=error, per §4.9's deterministic translation
// table: ValidationError keeps its field list and a generic suggestion;
// ExecutionError keeps the source tool's own message; everything else gets
// a non-leaking summary that never repeats err.Error() to the caller.
func FormatError(err error, cfg NaturalLanguageConfig) core.AdapterResult {
	var uerr *core.Error
	if errors.As(err, &uerr) {
		switch uerr.Kind {
		case core.KindValidation:
			return validationResult(uerr, cfg)
		case core.KindExecution:
			return executionResult(uerr)
		case core.KindAdmission:
			return admissionResult(uerr)
		case core.KindHealth:
			return core.AdapterResult{
				Kind: core.ResultError,
				Conversational: core.Conversational{
					Summary: "a dependency is temporarily unhealthy; please try again shortly",
				},
				Metadata: map[string]interface{}{"code": uerr.Code},
			}
		}
	}
	return nonLeakingResult()
}

func validationResult(uerr *core.Error, cfg NaturalLanguageConfig) core.AdapterResult {
	suggestion := cfg.ErrorSuggestion
	if suggestion == "" {
		suggestion = "check the highlighted fields and try again"
	}
	fields := make([]string, 0, len(uerr.Fields))
	for _, f := range uerr.Fields {
		fields = append(fields, f.Field+": "+f.Message)
	}
	return core.AdapterResult{
		Kind: core.ResultError,
		Conversational: core.Conversational{
			Summary:    "the request could not be validated",
			Details:    render(strings.Join(fields, "\n"), cfg.RenderMarkdown),
			Suggestion: render(suggestion, cfg.RenderMarkdown),
		},
		Metadata: map[string]interface{}{"code": uerr.Code, "fields": uerr.Fields},
	}
}

func executionResult(uerr *core.Error) core.AdapterResult {
	msg := uerr.Message
	if msg == "" {
		msg = "the source tool reported an execution failure"
	}
	return core.AdapterResult{
		Kind: core.ResultError,
		Conversational: core.Conversational{
			Summary: msg,
		},
		Metadata: map[string]interface{}{"code": uerr.Code},
	}
}

func admissionResult(uerr *core.Error) core.AdapterResult {
	return core.AdapterResult{
		Kind: core.ResultError,
		Conversational: core.Conversational{
			Summary:    "the request was rejected before reaching the source tool",
			Suggestion: "please retry after the indicated delay",
		},
		Metadata: map[string]interface{}{"code": uerr.Code, "retryAfterMs": uerr.RetryAfter},
	}
}

// nonLeakingResult handles the "other exceptions" branch of §4.9: it must
// never place the raw error text in front of the caller.
func nonLeakingResult() core.AdapterResult {
	return core.AdapterResult{
		Kind: core.ResultError,
		Conversational: core.Conversational{
			Summary: "an unexpected error occurred while processing this request",
		},
		Metadata: map[string]interface{}{"code": "internal_error"},
	}
}

func defaultSuccessSummary(result core.SourceResult) string {
	if result.Message != "" {
		return result.Message
	}
	return "request completed successfully"
}

// render optionally converts md from markdown to HTML, falling back to the
// raw text on a render error. It never changes kind or error-mapping
// logic, purely presentational per §4.9.
func render(md string, asMarkdown bool) string {
	if !asMarkdown || md == "" {
		return md
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return md
	}
	return strings.TrimSpace(buf.String())
}
