package auth

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// DefaultCodePrompt is used when the challenge page carries no instruction text.
const DefaultCodePrompt = "Enter the PIN code we just sent to your email: "

// TwoFactorHandler solicits a one-time code when the upstream demands one.
type TwoFactorHandler struct {
	codes  ports.CodeProvider
	logger ports.Logger
}

// NewTwoFactorHandler creates a handler reading codes from provider.
func NewTwoFactorHandler(provider ports.CodeProvider, logger ports.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{codes: provider, logger: logger}
}

// Required reports whether a credentials response is a two-factor challenge.
func Required(doc *goquery.Document) bool {
	return doc != nil && doc.Find(`input[name="keep_code"]`).Length() > 0
}

// Prompt returns the instruction text shown on a challenge page.
func Prompt(doc *goquery.Document) string {
	if doc == nil {
		return DefaultCodePrompt
	}
	p := strings.TrimSpace(doc.Find("main.auth__body p").First().Text())
	if p == "" {
		return DefaultCodePrompt
	}
	return p + ": "
}

// Resolve marks the attempt as keep-code and blocks until a numeric code is
// supplied. Non-numeric answers are rejected and the prompt repeats. The wait
// has no timeout of its own; it ends with ctx or when the provider aborts.
func (h *TwoFactorHandler) Resolve(ctx context.Context, attempt *domain.LoginAttempt, prompt string) error {
	if h.codes == nil {
		return fmt.Errorf("%w: no two-factor code provider configured", ports.ErrCodeAborted)
	}
	attempt.KeepCode = true

	for {
		code, err := h.codes.RequestCode(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
			}
			return fmt.Errorf("%w: %w", ports.ErrCodeAborted, err)
		}
		code = strings.TrimSpace(code)
		if isNumeric(code) {
			attempt.Code = code
			return nil
		}
		h.logger.Warn(ctx, "Rejected non-numeric two-factor code", map[string]interface{}{"attempt": attempt.ID.String()})
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
