package model

// OperationType classifies an audited mutation.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// OperationResult is the outcome of an audited mutation.
type OperationResult string

const (
	ResultSuccess OperationResult = "success"
	ResultFail    OperationResult = "fail"
	ResultDenied  OperationResult = "denied"
)

// LoginResult is the outcome of an authentication attempt.
type LoginResult string

const (
	LoginSuccess         LoginResult = "success"
	LoginUserNotFound    LoginResult = "user_not_found"
	LoginWrongPassword   LoginResult = "wrong_password"
	LoginAccountDisabled LoginResult = "account_disabled"
)

// ObjectChanges holds the fields an update changed, before and after.
type ObjectChanges struct {
	Previous map[string]interface{} `json:"previous"`
	Current  map[string]interface{} `json:"current"`
}

// Empty reports whether nothing changed.
func (c ObjectChanges) Empty() bool {
	return len(c.Previous) == 0 && len(c.Current) == 0
}
