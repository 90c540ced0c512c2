package botprompts

import (
	"crypto/rand"
	"math/big"
	"unicode"

	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the minimum accepted password length
const MinPasswordLength = 8

// tokenAlphabet is URL safe so generated tokens can travel in links
const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// PasswordHasher hashes and verifies user passwords with bcrypt. The
// cost factor comes from configuration so operators can tune it.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a hasher. Costs outside bcrypt's accepted
// range fall back to the bcrypt default.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash generates a digest for the given cleartext password
func (p *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty", errors.CategoryBadInput)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}
	return string(h), nil
}

// VerifyAndUpdate checks the cleartext password against the stored
// digest. When the password matches but the digest was produced with
// an outdated cost, a fresh digest is returned for the caller to
// persist. A wrong password is not an error, matched is just false.
func (p *PasswordHasher) VerifyAndUpdate(password, digest string) (matched bool, newDigest string, err error) {
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)); err != nil {
		return false, "", nil
	}

	cost, err := bcrypt.Cost([]byte(digest))
	if err == nil && cost != p.cost {
		upgraded, herr := p.Hash(password)
		if herr != nil {
			return true, "", herr
		}
		return true, upgraded, nil
	}
	return true, "", nil
}

// DummyHash burns one hash operation and discards the result. Called
// on the no-match branches of login and reset-request so response
// latency does not reveal whether an account exists.
func (p *PasswordHasher) DummyHash(password string) {
	if password == "" {
		password = "timing-equalizer"
	}
	bcrypt.GenerateFromPassword([]byte(password), p.cost) //nolint:errcheck
}

// GenerateToken returns a random URL safe string of the given length,
// suitable for single use verification and reset tokens.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("token length must be positive", errors.CategoryBadInput)
	}
	max := big.NewInt(int64(len(tokenAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryInternal, "failed to read random bytes")
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}

// ValidatePassword checks the password complexity rules and reports
// every violated rule at once rather than stopping at the first.
func ValidatePassword(password string) error {
	var problems []string

	if len(password) < MinPasswordLength {
		problems = append(problems, TextCodePwLacksMinLength)
	}

	var hasLower, hasUpper, hasDigit, hasPunct bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasPunct = true
		}
	}

	if !hasLower {
		problems = append(problems, TextCodePwLacksLowercase)
	}
	if !hasUpper {
		problems = append(problems, TextCodePwLacksUppercase)
	}
	if !hasDigit {
		problems = append(problems, TextCodePwLacksDigits)
	}
	if !hasPunct {
		problems = append(problems, TextCodePwLacksPunctuation)
	}

	if len(problems) > 0 {
		return NewValidationError(problems)
	}
	return nil
}
