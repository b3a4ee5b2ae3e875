package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"

	"remediator/internal/data"
)

// StatusCode extracts the HTTP status from a go-github error, or 0.
func StatusCode(err error) int {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	var rl *github.RateLimitError
	if errors.As(err, &rl) && rl.Response != nil {
		return rl.Response.StatusCode
	}
	var ab *github.AbuseRateLimitError
	if errors.As(err, &ab) && ab.Response != nil {
		return ab.Response.StatusCode
	}
	return 0
}

// IsRateLimited reports primary or secondary rate limiting.
func IsRateLimited(err error) bool {
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var ab *github.AbuseRateLimitError
	if errors.As(err, &ab) {
		return true
	}
	if StatusCode(err) == http.StatusTooManyRequests {
		return true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusForbidden {
		return strings.Contains(strings.ToLower(er.Message), "rate limit")
	}
	return false
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsAuthFailure reports 401/403 responses that are not rate limiting.
func IsAuthFailure(err error) bool {
	code := StatusCode(err)
	if code != http.StatusUnauthorized && code != http.StatusForbidden {
		return false
	}
	return !IsRateLimited(err)
}

// IsAlreadyExists reports the 422 GitHub returns when creating a ref that exists.
func IsAlreadyExists(err error) bool {
	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil || er.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(strings.ToLower(er.Message), "already exists")
}

// Classify maps a failed GitHub call onto the run's error kinds: 404 is
// NotFoundError, everything else is AccessError. Errors that already carry a
// kind pass through.
func Classify(op string, err error, verbose bool) error {
	var classified *data.Error
	if errors.As(err, &classified) {
		return err
	}
	desc := Describe(err, verbose)
	switch {
	case IsNotFound(err):
		return data.NewError(data.KindNotFound, "", fmt.Errorf("%s: %s", op, desc))
	case IsAuthFailure(err):
		return data.NewError(data.KindAccess, "", fmt.Errorf("%s: access denied (check the token's repository permissions): %s", op, desc))
	default:
		return data.NewError(data.KindAccess, "", fmt.Errorf("%s: %s", op, desc))
	}
}

// Describe renders err for the outcome record without leaking request URLs.
// verbose keeps the full go-github error string.
func Describe(err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}

	full := err.Error()
	if verbose {
		return full
	}

	// Prefer structured GitHub error types to avoid leaking full request URLs.
	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg := strings.TrimSpace(er.Message)
		if msg == "" {
			msg = "GitHub API request failed"
		}
		if er.Response != nil {
			status := fmt.Sprintf("%d %s", er.Response.StatusCode, http.StatusText(er.Response.StatusCode))
			return fmt.Sprintf("GitHub API request failed (%s): %s", status, msg)
		}
		return fmt.Sprintf("GitHub API request failed: %s", msg)
	}
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Sprintf("GitHub API rate limit exceeded (resets %s)", rl.Rate.Reset.Format("15:04:05 MST"))
	}

	if scrubbed := scrubGitHubRequestFromErrorString(strings.TrimSpace(full)); scrubbed != "" {
		return scrubbed
	}
	return strings.TrimSpace(full)
}

func scrubGitHubRequestFromErrorString(s string) string {
	// Typical go-github error format:
	//   GET https://api.github.com/...: 403 Some message. [..]
	// Drop the leading "GET https://...: " part.
	methods := []string{"GET ", "POST ", "PUT ", "PATCH ", "DELETE "}
	for _, m := range methods {
		if strings.HasPrefix(s, m) {
			if i := strings.Index(s, "https://"); i >= 0 {
				if j := strings.Index(s[i:], ": "); j >= 0 {
					return strings.TrimSpace(s[i+j+2:])
				}
			}
			if j := strings.Index(s, ": "); j >= 0 {
				return strings.TrimSpace(s[j+2:])
			}
			break
		}
	}
	return ""
}
