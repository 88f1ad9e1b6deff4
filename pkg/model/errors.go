package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the abstract classification of an error. Surfaces map kinds to their own codes.
type Kind string

const (
	KindNotFound                Kind = "NotFound"
	KindAlreadyExists           Kind = "AlreadyExists"
	KindInvalidInput            Kind = "InvalidInput"
	KindInvalidConfig           Kind = "InvalidConfig"
	KindConflict                Kind = "Conflict"
	KindComponentConstraint     Kind = "ComponentConstraint"
	KindHostNotFound            Kind = "HostNotFound"
	KindMaintenanceModeConflict Kind = "MaintenanceModeConflict"
	KindPermissionDenied        Kind = "PermissionDenied"
	KindLockError               Kind = "LockError"
	KindUserPasswordError       Kind = "UserPasswordError"
	KindUserCreateError         Kind = "UserCreateError"
	KindUserUpdateError         Kind = "UserUpdateError"
	KindUserConflict            Kind = "UserConflict"
	KindMessageTemplatingError  Kind = "MessageTemplatingError"
	KindInternal                Kind = "Internal"
)

// Exit codes of the command line surface.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitBadInput         = 2
	ExitConflict         = 3
	ExitNotFound         = 4
	ExitPermissionDenied = 5
)

// Error is a classified domain error carrying a wire code and a user-facing description.
type Error struct {
	// Kind is the abstract classification.
	Kind Kind `json:"kind"`

	// Code is the wire code, e.g. SERVICE_CONFLICT.
	Code string `json:"code"`

	// Message is the human-readable description.
	Message string `json:"desc"`

	// Status overrides the HTTP-like status derived from Kind.
	Status int `json:"-"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context, e.g. per-field diagnostics.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithErr attaches the underlying cause.
func (e *Error) WithErr(err error) *Error {
	e.Err = err
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStatus overrides the derived status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// HTTPStatus returns the status a request surface should answer with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindNotFound, KindHostNotFound:
		return http.StatusNotFound
	case KindInvalidInput, KindInvalidConfig, KindUserPasswordError,
		KindUserCreateError, KindUserUpdateError:
		return http.StatusBadRequest
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

// ExitCode maps the error to a command line exit code.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case KindInvalidInput, KindInvalidConfig, KindUserPasswordError,
		KindUserCreateError, KindUserUpdateError:
		return ExitBadInput
	case KindNotFound, KindHostNotFound:
		return ExitNotFound
	case KindPermissionDenied:
		return ExitPermissionDenied
	case KindAlreadyExists, KindConflict, KindComponentConstraint,
		KindMaintenanceModeConflict, KindLockError, KindUserConflict, KindMessageTemplatingError:
		return ExitConflict
	default:
		return ExitFailure
	}
}

// ErrorBody is the user-visible error shape.
type ErrorBody struct {
	Code  string `json:"code"`
	Level string `json:"level"`
	Desc  string `json:"desc"`
}

// Body renders the error for a response.
func (e *Error) Body() ErrorBody {
	return ErrorBody{Code: e.Code, Level: "error", Desc: e.Message}
}

// NewError creates a classified error.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Errorf creates a classified error with a formatted description.
func Errorf(kind Kind, code, format string, args ...interface{}) *Error {
	return NewError(kind, code, fmt.Sprintf(format, args...))
}

// NotFound creates a not-found error.
func NotFound(code, format string, args ...interface{}) *Error {
	return Errorf(KindNotFound, code, format, args...)
}

// Conflict creates a state-guard error.
func Conflict(code, format string, args ...interface{}) *Error {
	return Errorf(KindConflict, code, format, args...)
}

// InvalidInput creates a malformed-request error.
func InvalidInput(code, format string, args ...interface{}) *Error {
	return Errorf(KindInvalidInput, code, format, args...)
}

// InvalidConfig creates a config validation error.
func InvalidConfig(format string, args ...interface{}) *Error {
	return Errorf(KindInvalidConfig, ErrCodeConfigValueError, format, args...)
}

// AsError extracts a classified error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HasCode reports whether err carries the wire code.
func HasCode(err error, code string) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// ExitCodeOf maps any error to a command line exit code.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	if e, ok := AsError(err); ok {
		return e.ExitCode()
	}
	return ExitFailure
}

// Wire codes.
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeAlreadyExists  = "ALREADY_EXISTS"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeAccessDenied   = "PERMISSION_DENIED"
	ErrCodeLockError      = "LOCK_ERROR"
	ErrCodeTemplate       = "MESSAGE_TEMPLATING_ERROR"
	ErrCodeInvalidObjType = "INVALID_OBJECT_DEFINITION"

	ErrCodeBundleNotFound    = "BUNDLE_NOT_FOUND"
	ErrCodeBundleConflict    = "BUNDLE_CONFLICT"
	ErrCodeBundleError       = "BUNDLE_ERROR"
	ErrCodePrototypeNotFound = "PROTOTYPE_NOT_FOUND"
	ErrCodeLicenseError      = "LICENSE_ERROR"
	ErrCodeDefinitionError   = "INVALID_OBJECT_DEFINITION_ERROR"

	ErrCodeADCMNotFound      = "ADCM_NOT_FOUND"
	ErrCodeClusterNotFound   = "CLUSTER_NOT_FOUND"
	ErrCodeClusterConflict   = "CLUSTER_CONFLICT"
	ErrCodeServiceNotFound   = "SERVICE_NOT_FOUND"
	ErrCodeServiceConflict   = "SERVICE_CONFLICT"
	ErrCodeServiceDelete     = "SERVICE_DELETE_ERROR"
	ErrCodeComponentNotFound = "COMPONENT_NOT_FOUND"
	ErrCodeProviderNotFound  = "PROVIDER_NOT_FOUND"
	ErrCodeProviderConflict  = "PROVIDER_CONFLICT"
	ErrCodeHostNotFound      = "HOST_NOT_FOUND"
	ErrCodeHostConflict      = "HOST_CONFLICT"
	ErrCodeForeignHost       = "FOREIGN_HOST"
	ErrCodeWrongName         = "WRONG_NAME"

	ErrCodeConfigNotFound      = "CONFIG_NOT_FOUND"
	ErrCodeConfigValueError    = "CONFIG_VALUE_ERROR"
	ErrCodeAttributeError      = "ATTRIBUTE_ERROR"
	ErrCodeGroupConfigNotFound = "GROUP_CONFIG_NOT_FOUND"
	ErrCodeGroupConfigHost     = "GROUP_CONFIG_HOST_ERROR"
	ErrCodeGroupConfigExists   = "GROUP_CONFIG_CONFLICT"

	ErrCodeComponentConstraint = "COMPONENT_CONSTRAINT_ERROR"
	ErrCodeHostInMM            = "INVALID_HC_HOST_IN_MM"
	ErrCodeMaintenanceMode     = "MAINTENANCE_MODE"

	ErrCodeBindNotFound   = "BIND_NOT_FOUND"
	ErrCodeBindError      = "BIND_ERROR"
	ErrCodeImportNotFound = "IMPORT_NOT_FOUND"

	ErrCodeActionNotFound    = "ACTION_NOT_FOUND"
	ErrCodeActionConflict    = "ACTION_CONFLICT"
	ErrCodeActionError       = "ACTION_ERROR"
	ErrCodeTaskNotFound      = "TASK_NOT_FOUND"
	ErrCodeJobNotFound       = "JOB_NOT_FOUND"
	ErrCodeLogNotFound       = "LOG_NOT_FOUND"
	ErrCodeTaskGenerator     = "TASK_GENERATOR_ERROR"
	ErrCodeHostGroupNotFound = "HOST_GROUP_NOT_FOUND"
	ErrCodeHostGroupConflict = "HOST_GROUP_CONFLICT"
	ErrCodeUpgradeNotFound   = "UPGRADE_NOT_FOUND"
	ErrCodeUpgradeError      = "UPGRADE_ERROR"
	ErrCodeStateUnsetError   = "MULTI_STATE_UNSET_ERROR"

	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeUserCreate       = "USER_CREATE_ERROR"
	ErrCodeUserUpdate       = "USER_UPDATE_ERROR"
	ErrCodeUserConflict     = "USER_CONFLICT"
	ErrCodeUserPassword     = "USER_PASSWORD_ERROR"
	ErrCodeUserBlock        = "USER_BLOCK_ERROR"
	ErrCodeGroupNotFound    = "GROUP_NOT_FOUND"
	ErrCodeGroupConflict    = "GROUP_CONFLICT"
	ErrCodeGroupUpdate      = "GROUP_UPDATE_ERROR"
	ErrCodeRoleNotFound     = "ROLE_NOT_FOUND"
	ErrCodeRoleCreate       = "ROLE_CREATE_ERROR"
	ErrCodeRoleUpdate       = "ROLE_UPDATE_ERROR"
	ErrCodeRoleDelete       = "ROLE_DELETE_ERROR"
	ErrCodeRoleConflict     = "ROLE_CONFLICT"
	ErrCodePolicyNotFound   = "POLICY_NOT_FOUND"
	ErrCodePolicyCreate     = "POLICY_CREATE_ERROR"
	ErrCodeAuthError        = "AUTH_ERROR"
	ErrCodeConcernNotFound  = "CONCERN_NOT_FOUND"
	ErrCodeTemplateNotFound = "MESSAGE_TEMPLATE_NOT_FOUND"
)
