package audit

import (
	"time"

	"github.com/openadcm/adcm/pkg/model"
)

// Object is an audit_object row.
type Object struct {
	ID         int64            `json:"id"`
	ObjectID   int64            `json:"object_id"`
	ObjectName string           `json:"object_name"`
	ObjectType model.ObjectType `json:"object_type"`
	IsDeleted  bool             `json:"is_deleted"`
}

// Operation is an audit_operation row with its object.
type Operation struct {
	ID      int64                 `json:"id"`
	Name    string                `json:"operation_name"`
	Type    model.OperationType   `json:"operation_type"`
	Result  model.OperationResult `json:"operation_result"`
	Time    time.Time             `json:"operation_time"`
	Changes model.ObjectChanges   `json:"object_changes"`
	// UserID is zero for records made without a user.
	UserID int64   `json:"user_id,omitempty"`
	Object *Object `json:"object,omitempty"`
}

// Login is an audit_login row.
type Login struct {
	ID      int64                  `json:"id"`
	UserID  int64                  `json:"user_id,omitempty"`
	Result  model.LoginResult      `json:"login_result"`
	Time    time.Time              `json:"login_time"`
	Details map[string]interface{} `json:"login_details"`
}

// Entry describes an operation to record.
type Entry struct {
	// Object is the audited object; zero for operations without one, such as
	// bundle uploads that fail before a bundle exists.
	Object     model.Ref
	ObjectName string
	Name       string
	Type       model.OperationType
	Result     model.OperationResult
	UserID     int64
	Username   string
	Changes    model.ObjectChanges
	// Signature overrides the CEF signature id, the object type by default.
	Signature string
}

// LoginEntry describes a login attempt to record.
type LoginEntry struct {
	UserID   int64
	Username string
	Result   model.LoginResult
	Details  map[string]interface{}
}

// OperationFilter narrows an operation query. Zero fields do not filter.
type OperationFilter struct {
	From       time.Time
	To         time.Time
	Type       model.OperationType
	Result     model.OperationResult
	ObjectType model.ObjectType
	// ObjectName matches by substring.
	ObjectName string
	Username   string
	Limit      int
	Offset     int
}

// LoginFilter narrows a login query. Zero fields do not filter.
type LoginFilter struct {
	From     time.Time
	To       time.Time
	Result   model.LoginResult
	Username string
	Limit    int
	Offset   int
}

// UserResolver translates usernames for filters.
type UserResolver interface {
	UserID(username string) (int64, bool)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(username string) (int64, bool)

// UserID implements UserResolver.
func (f UserResolverFunc) UserID(username string) (int64, bool) { return f(username) }

// Batch is the set of records selected for rotation.
type Batch struct {
	Operations []Operation
	Logins     []Login
	// Objects are deleted objects no longer referenced by a kept operation.
	Objects []Object
}

// Empty reports whether the batch holds nothing.
func (b *Batch) Empty() bool {
	return len(b.Operations) == 0 && len(b.Logins) == 0 && len(b.Objects) == 0
}
