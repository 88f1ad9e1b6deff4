package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog"
)

// PasswordPolicy bounds local passwords and failed logins.
type PasswordPolicy struct {
	MinLength int `mapstructure:"min_password_length"`
	MaxLength int `mapstructure:"max_password_length"`
	// LoginAttemptLimit blocks a user after that many failed logins; 0 disables.
	LoginAttemptLimit int           `mapstructure:"login_attempt_limit"`
	BlockTime         time.Duration `mapstructure:"block_time"`
}

// DefaultPasswordPolicy returns the stock policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 12, MaxLength: 128, LoginAttemptLimit: 5, BlockTime: 5 * time.Minute}
}

// Check validates a new password.
func (p PasswordPolicy) Check(password string) error {
	n := len([]rune(password))
	if n < p.MinLength {
		return model.Errorf(model.KindUserPasswordError, model.ErrCodeUserPassword,
			"password is too short, minimum length is %d", p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return model.Errorf(model.KindUserPasswordError, model.ErrCodeUserPassword,
			"password is too long, maximum length is %d", p.MaxLength)
	}
	return nil
}

// Directory owns the RBAC objects. Its methods run inside a stores transaction.
type Directory struct {
	logger    zerolog.Logger
	validate  *validator.Validate
	passwords PasswordPolicy
	now       func() time.Time
}

// NewDirectory creates a directory with the default password policy.
func NewDirectory(logger zerolog.Logger) *Directory {
	return &Directory{
		logger:    logger.With().Str("component", "rbac").Logger(),
		validate:  validator.New(),
		passwords: DefaultPasswordPolicy(),
		now:       time.Now,
	}
}

// SetPasswordPolicy replaces the password policy, e.g. from the ADCM settings.
func (d *Directory) SetPasswordPolicy(p PasswordPolicy) {
	d.passwords = p
}

// PasswordPolicy returns the active password policy.
func (d *Directory) PasswordPolicy() PasswordPolicy {
	return d.passwords
}

// structError turns validator errors into a classified error.
func (d *Directory) structError(kind model.Kind, code string, v interface{}) error {
	err := d.validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return model.Errorf(kind, code, "%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return model.Errorf(kind, code, "%s", strings.Join(msgs, "; "))
}
