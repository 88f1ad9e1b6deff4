package rbac

import (
	"slices"
	"strings"
	"time"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"golang.org/x/crypto/bcrypt"
)

// UserInput carries the fields of a user create or update. Nil pointers leave
// the field unchanged on update.
type UserInput struct {
	Username    string
	FirstName   *string
	LastName    *string
	Email       *string
	Password    *string
	IsSuperuser *bool
	IsActive    *bool
	GroupIDs    []int64
	Type        model.OriginType
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Users returns every user ordered by id.
func Users(tx *stores.Tx) []*model.User {
	return tx.Users.All()
}

func (d *Directory) hash(password string) (string, error) {
	if err := d.passwords.Check(password); err != nil {
		return "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", model.Errorf(model.KindUserPasswordError, model.ErrCodeUserPassword, "failed to hash password").WithErr(err)
	}
	return string(h), nil
}

func (d *Directory) checkUnique(tx *stores.Tx, selfID int64, username, email string) error {
	if tx.Users.Count(func(u *model.User) bool {
		return u.ID != selfID && strings.EqualFold(u.Username, username)
	}) > 0 {
		return model.Errorf(model.KindUserConflict, model.ErrCodeUserConflict, "user with the same username already exists")
	}
	if email != "" && tx.Users.Count(func(u *model.User) bool {
		return u.ID != selfID && strings.EqualFold(u.Email, email)
	}) > 0 {
		return model.Errorf(model.KindUserConflict, model.ErrCodeUserConflict, "user with the same email already exists")
	}
	return nil
}

func checkGroups(tx *stores.Tx, ids []int64) error {
	for _, id := range ids {
		if !tx.Groups.Has(id) {
			return model.NotFound(model.ErrCodeGroupNotFound, "group %d not found", id)
		}
	}
	return nil
}

// checkDirectoryGroups rejects membership changes in LDAP-origin groups.
func checkDirectoryGroups(tx *stores.Tx, old, next []int64) error {
	changed := func(id int64) bool { return slices.Contains(old, id) != slices.Contains(next, id) }
	for _, id := range append(slices.Clone(old), next...) {
		if !changed(id) {
			continue
		}
		if g, ok := tx.Groups.Get(id); ok && g.Type == model.OriginLDAP {
			return model.Conflict(model.ErrCodeGroupUpdate, "you cannot change membership of LDAP type group %q", g.DisplayName)
		}
	}
	return nil
}

// CreateUser creates a local user.
func (d *Directory) CreateUser(tx *stores.Tx, in UserInput) (*model.User, error) {
	if in.Type == "" {
		in.Type = model.OriginLocal
	}
	u := &model.User{
		Username:    in.Username,
		FirstName:   strOr(in.FirstName, ""),
		LastName:    strOr(in.LastName, ""),
		Email:       strOr(in.Email, ""),
		IsSuperuser: boolOr(in.IsSuperuser, false),
		IsActive:    boolOr(in.IsActive, true),
		Type:        in.Type,
		GroupIDs:    slices.Clone(in.GroupIDs),
	}
	if err := d.structError(model.KindUserCreateError, model.ErrCodeUserCreate, u); err != nil {
		return nil, err
	}
	if err := d.checkUnique(tx, 0, u.Username, u.Email); err != nil {
		return nil, err
	}
	if err := checkGroups(tx, u.GroupIDs); err != nil {
		return nil, err
	}
	if u.Type == model.OriginLocal {
		if err := checkDirectoryGroups(tx, nil, u.GroupIDs); err != nil {
			return nil, err
		}
		if in.Password == nil {
			return nil, model.Errorf(model.KindUserCreateError, model.ErrCodeUserCreate, "password is required")
		}
		h, err := d.hash(*in.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = h
	}
	tx.Users.Insert(u)
	d.logger.Info().Int64("user_id", u.ID).Str("username", u.Username).Msg("User created")
	return u, nil
}

// UpdateUser applies the non-nil fields of in. Directory-synchronized users
// only accept group and superuser changes.
func (d *Directory) UpdateUser(tx *stores.Tx, id int64, in UserInput) (*model.User, model.ObjectChanges, error) {
	u, err := tx.User(id)
	if err != nil {
		return nil, model.ObjectChanges{}, err
	}
	if in.Username != "" && in.Username != u.Username {
		return nil, model.ObjectChanges{}, model.Errorf(model.KindUserUpdateError, model.ErrCodeUserUpdate,
			"username cannot be changed")
	}
	if u.Type == model.OriginLDAP &&
		(in.FirstName != nil || in.LastName != nil || in.Email != nil || in.Password != nil || in.IsActive != nil) {
		return nil, model.ObjectChanges{}, model.Errorf(model.KindUserUpdateError, model.ErrCodeUserUpdate,
			"you cannot change LDAP type user")
	}
	before := UserSnapshot(tx, u)
	u.FirstName = strOr(in.FirstName, u.FirstName)
	u.LastName = strOr(in.LastName, u.LastName)
	u.Email = strOr(in.Email, u.Email)
	u.IsSuperuser = boolOr(in.IsSuperuser, u.IsSuperuser)
	u.IsActive = boolOr(in.IsActive, u.IsActive)
	if in.GroupIDs != nil {
		if err := checkGroups(tx, in.GroupIDs); err != nil {
			return nil, model.ObjectChanges{}, err
		}
		if err := checkDirectoryGroups(tx, u.GroupIDs, in.GroupIDs); err != nil {
			return nil, model.ObjectChanges{}, err
		}
		u.GroupIDs = slices.Clone(in.GroupIDs)
	}
	if err := d.structError(model.KindUserUpdateError, model.ErrCodeUserUpdate, u); err != nil {
		return nil, model.ObjectChanges{}, err
	}
	if err := d.checkUnique(tx, u.ID, u.Username, u.Email); err != nil {
		return nil, model.ObjectChanges{}, err
	}
	if in.Password != nil {
		h, err := d.hash(*in.Password)
		if err != nil {
			return nil, model.ObjectChanges{}, err
		}
		u.PasswordHash = h
	}
	tx.Users.Put(u)
	return u, Diff(before, UserSnapshot(tx, u)), nil
}

// ChangePassword replaces the password of a local user after checking the
// current one.
func (d *Directory) ChangePassword(tx *stores.Tx, id int64, current, next string) error {
	u, err := tx.User(id)
	if err != nil {
		return err
	}
	if u.Type != model.OriginLocal {
		return model.Errorf(model.KindUserUpdateError, model.ErrCodeUserUpdate, "you cannot change LDAP type user")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return model.Errorf(model.KindUserPasswordError, model.ErrCodeUserPassword, "current password is wrong")
	}
	h, err := d.hash(next)
	if err != nil {
		return err
	}
	u.PasswordHash = h
	tx.Users.Put(u)
	return nil
}

// BlockUser deactivates a user on behalf of actor.
func (d *Directory) BlockUser(tx *stores.Tx, actor model.Principal, id int64) (*model.User, error) {
	u, err := tx.User(id)
	if err != nil {
		return nil, err
	}
	if actor.UserID == id {
		return nil, model.Conflict(model.ErrCodeUserBlock, "you cannot block yourself")
	}
	if u.Type == model.OriginLDAP {
		return nil, model.Conflict(model.ErrCodeUserBlock, "you cannot block LDAP type user")
	}
	u.BlockedAt = d.now()
	u.IsActive = false
	tx.Users.Put(u)
	return u, nil
}

// UnblockUser reactivates a user and resets the failed-login counter.
func (d *Directory) UnblockUser(tx *stores.Tx, id int64) (*model.User, error) {
	u, err := tx.User(id)
	if err != nil {
		return nil, err
	}
	u.BlockedAt = time.Time{}
	u.FailedLoginAttempts = 0
	u.IsActive = true
	tx.Users.Put(u)
	return u, nil
}

// DeleteUser removes a user and drops it from every policy.
func (d *Directory) DeleteUser(tx *stores.Tx, actor model.Principal, id int64) (*model.User, error) {
	u, err := tx.User(id)
	if err != nil {
		return nil, err
	}
	if u.BuiltIn {
		return nil, model.Conflict(model.ErrCodeUserUpdate, "built-in user %q cannot be deleted", u.Username).WithStatus(405)
	}
	if actor.UserID == id {
		return nil, model.Conflict(model.ErrCodeUserUpdate, "you cannot delete yourself")
	}
	for _, p := range tx.Policies.Find(func(p *model.Policy) bool { return slices.Contains(p.UserIDs, id) }) {
		p.UserIDs = slices.DeleteFunc(p.UserIDs, func(x int64) bool { return x == id })
		tx.Policies.Put(p)
	}
	tx.Users.Delete(id)
	return u, nil
}

// Authenticate checks credentials, counting failures and blocking the user
// once the attempt limit is reached. A block expires after BlockTime.
func (d *Directory) Authenticate(tx *stores.Tx, username, password string) (*model.User, model.LoginResult) {
	u, ok := tx.Users.First(func(u *model.User) bool { return u.Username == username })
	if !ok {
		return nil, model.LoginUserNotFound
	}
	now := d.now()
	if !u.BlockedAt.IsZero() && d.passwords.BlockTime > 0 && now.Sub(u.BlockedAt) >= d.passwords.BlockTime {
		u.BlockedAt = time.Time{}
		u.FailedLoginAttempts = 0
		u.IsActive = true
	}
	if !u.IsActive || !u.BlockedAt.IsZero() {
		tx.Users.Put(u)
		return u, model.LoginAccountDisabled
	}
	if u.Type != model.OriginLocal || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		u.FailedLoginAttempts++
		if d.passwords.LoginAttemptLimit > 0 && u.FailedLoginAttempts >= d.passwords.LoginAttemptLimit {
			u.BlockedAt = now
			d.logger.Warn().Str("username", u.Username).Int("attempts", u.FailedLoginAttempts).Msg("User blocked after failed logins")
		}
		tx.Users.Put(u)
		return u, model.LoginWrongPassword
	}
	u.FailedLoginAttempts = 0
	u.LastLogin = now
	tx.Users.Put(u)
	return u, model.LoginSuccess
}
