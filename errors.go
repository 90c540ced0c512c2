package botprompts

import "github.com/goliatone/go-errors"

// Machine readable reason codes surfaced in error payloads. Clients
// match on these, not on the human readable message.
const (
	TextCodePwLacksLowercase   = "PW_LACKS_LOWERCASE"
	TextCodePwLacksUppercase   = "PW_LACKS_UPPERCASE"
	TextCodePwLacksDigits      = "PW_LACKS_DIGITS"
	TextCodePwLacksPunctuation = "PW_LACKS_PUNCTUATION"
	TextCodePwLacksMinLength   = "PW_LACKS_MIN_LENGTH"

	TextCodeEmailInvalid = "EMAIL_INVALID"
	TextCodeEmailExists  = "EMAIL_EXISTS"
	TextCodeNameExists   = "NAME_EXISTS"
	TextCodeNameTooShort = "NAME_TOO_SHORT"

	TextCodeUserDoesNotExist    = "USER_DOES_NOT_EXIST"
	TextCodeUserAlreadyVerified = "USER_ALREADY_VERIFIED"

	TextCodeLoginBadCredentials = "LOGIN_BAD_CREDENTIALS"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeNotEnoughPerms      = "AUTH_NOT_ENOUGH_PERMISSIONS"
	TextCodeAccountDisabled     = "USER_ACCOUNT_DISABLED"
	TextCodeInvalidPermission   = "INVALID_PERMISSION"

	TextCodeTokenInvalid          = "TOKEN_INVALID"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenUserMismatch     = "TOKEN_FAIL_USER_MISMATCH"
	TextCodeTokenRevoked          = "TOKEN_FAIL_REVOKED"
	TextCodeRefreshRotationFailed = "REFRESH_TOKEN_ROTATE_ERROR"

	TextCodeRoleAlreadyExists       = "ROLE_ALREADY_EXISTS"
	TextCodeRoleDoesNotExist        = "ROLE_DOES_NOT_EXIST"
	TextCodePermissionAlreadyExists = "PERMISSION_ALREADY_EXISTS"
	TextCodePermissionDoesNotExist  = "PERMISSION_DOES_NOT_EXIST"

	TextCodePromptDoesNotExist   = "PROMPT_DOES_NOT_EXIST"
	TextCodePromptAlreadyExists  = "PROMPT_ALREADY_EXISTS"
	TextCodePromptUpdateOnlyOne  = "PROMPT_UPDATE_ONLY_ONE_PERMITTED"
)

// ErrInvalidCredentials is returned for missing, undecodable or
// unmatched credentials. The message stays generic on purpose.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrNotEnoughPermissions is returned when a caller authenticates but
// none of the requested scopes are satisfied.
var ErrNotEnoughPermissions = errors.New("not enough permissions", errors.CategoryAuthz).
	WithTextCode(TextCodeNotEnoughPerms).
	WithCode(errors.CodeForbidden)

// ErrAccountDisabled is returned when a token's owner is no longer an
// active, verified account.
var ErrAccountDisabled = errors.New("account is disabled", errors.CategoryAuth).
	WithTextCode(TextCodeAccountDisabled).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidPermission is returned when a payload names a permission
// that does not exist.
var ErrInvalidPermission = errors.New("permission does not exist or could not be found by name", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidPermission).
	WithCode(errors.CodeBadRequest)

// ErrTokenRevoked is returned when a refresh token fails any of the
// rotation checks. All rotation failures collapse into this error.
var ErrTokenRevoked = errors.New("token has been revoked", errors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned when a persisted single-use token has
// passed its expiry.
var ErrTokenExpired = errors.New("token has expired", errors.CategoryValidation).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeBadRequest)

// ErrTokenInvalid is returned for unknown or unusable single-use tokens.
var ErrTokenInvalid = errors.New("token is invalid", errors.CategoryValidation).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(errors.CodeBadRequest)

// ErrUserDoesNotExist is returned when a user lookup comes back empty.
var ErrUserDoesNotExist = errors.New("user does not exist", errors.CategoryNotFound).
	WithTextCode(TextCodeUserDoesNotExist).
	WithCode(errors.CodeNotFound)

// ErrUserAlreadyVerified is returned when issuing a verification token
// for a user that is already verified.
var ErrUserAlreadyVerified = errors.New("user is already verified", errors.CategoryConflict).
	WithTextCode(TextCodeUserAlreadyVerified).
	WithCode(errors.CodeConflict)

// ErrRoleDoesNotExist is returned when a role lookup comes back empty.
var ErrRoleDoesNotExist = errors.New("role does not exist", errors.CategoryNotFound).
	WithTextCode(TextCodeRoleDoesNotExist).
	WithCode(errors.CodeNotFound)

// ErrPermissionDoesNotExist is returned when a permission lookup comes
// back empty.
var ErrPermissionDoesNotExist = errors.New("permission does not exist", errors.CategoryNotFound).
	WithTextCode(TextCodePermissionDoesNotExist).
	WithCode(errors.CodeNotFound)

// ErrPromptDoesNotExist is returned when a prompt lookup comes back
// empty.
var ErrPromptDoesNotExist = errors.New("prompt does not exist", errors.CategoryNotFound).
	WithTextCode(TextCodePromptDoesNotExist).
	WithCode(errors.CodeNotFound)

// ErrPromptUpdateOnlyOne rejects bulk prompt updates. Revisions are
// appended one prompt at a time.
var ErrPromptUpdateOnlyOne = errors.New("only one prompt may be updated per request", errors.CategoryAuthz).
	WithTextCode(TextCodePromptUpdateOnlyOne).
	WithCode(errors.CodeForbidden)

// NewValidationError wraps a batch of reason codes collected by a
// pre-flight check. The full list travels in metadata so the boundary
// can report every problem at once.
func NewValidationError(reasons []string) error {
	return errors.New("validation failed", errors.CategoryValidation).
		WithTextCode(reasons[0]).
		WithCode(errors.CodeBadRequest).
		WithMetadata(map[string]any{"reasons": reasons})
}

// ValidationReasons extracts the reason code list carried by an error
// built with NewValidationError. Returns nil when the error carries
// none.
func ValidationReasons(err error) []string {
	var rich *errors.Error
	if !errors.As(err, &rich) {
		return nil
	}
	if rich.Metadata == nil {
		return nil
	}
	switch v := rich.Metadata["reasons"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
