package token

import (
	"errors"
	"strings"

	"github.com/jrsteele09/go-chat-server/transport"
)

var ErrCredentialIssuance = errors.New("credential issuance failed")

// CredentialIssuanceError reports that the transport refused to mint a disposable credential.
// Diagnostic is safe to show to callers: the administrative credential is scrubbed from it.
type CredentialIssuanceError struct {
	Op         string
	Diagnostic string
	Err        error
}

func (e *CredentialIssuanceError) Error() string {
	return "credential issuance failed (" + e.Op + "): " + e.Diagnostic
}

func (e *CredentialIssuanceError) Unwrap() error {
	return e.Err
}

func (e *CredentialIssuanceError) Is(target error) bool {
	return target == ErrCredentialIssuance
}

// newIssuanceError builds the error surfaced to callers. When the underlying error mentions the
// admin secret, the chain is replaced by a scrubbed copy that keeps only the transport code.
func newIssuanceError(op string, err error, adminSecret string) *CredentialIssuanceError {
	diag := err.Error()
	if adminSecret == "" || !strings.Contains(diag, adminSecret) {
		return &CredentialIssuanceError{Op: op, Diagnostic: diag, Err: err}
	}

	diag = strings.ReplaceAll(diag, adminSecret, "[REDACTED]")
	var cause error = errors.New(diag)
	if code := transport.CodeOf(err); code != "" {
		cause = transport.NewError(code, diag)
	}
	return &CredentialIssuanceError{Op: op, Diagnostic: diag, Err: cause}
}
