package manager

import (
	"context"

	"github.com/openadcm/adcm/pkg/audit"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

var auditRef = model.NewRef(rbac.ObjectAudit, 0)

func (m *Manager) checkView(ctx context.Context, p model.Principal, obj model.Ref) error {
	return m.graph.View(ctx, func(tx *stores.Tx) error {
		return m.authz.Check(ctx, tx, p, rbac.VerbView, obj)
	})
}

// Operations returns audit operations matching f, newest first.
func (m *Manager) Operations(ctx context.Context, p model.Principal, f audit.OperationFilter) ([]audit.Operation, error) {
	if err := m.checkView(ctx, p, auditRef); err != nil {
		return nil, err
	}
	return m.audit.Operations(ctx, f)
}

// Logins returns audit login records matching f, newest first.
func (m *Manager) Logins(ctx context.Context, p model.Principal, f audit.LoginFilter) ([]audit.Login, error) {
	if err := m.checkView(ctx, p, auditRef); err != nil {
		return nil, err
	}
	return m.audit.Logins(ctx, f)
}

// Authenticate checks the credentials of a user and records the attempt. On
// success it returns the principal to run commands as.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (model.Principal, error) {
	var user *model.User
	var result model.LoginResult
	err := m.graph.Update(ctx, func(tx *stores.Tx) error {
		user, result = m.directory.Authenticate(tx, username, password)
		return nil
	})
	if err != nil {
		return model.Principal{}, err
	}

	entry := audit.LoginEntry{Username: username, Result: result}
	if user != nil {
		entry.UserID = user.ID
	}
	if _, err := m.audit.Login(ctx, entry); err != nil {
		m.logger.Error().Err(err).Str("username", username).Msg("Failed to record login")
	}
	if result != model.LoginSuccess {
		m.logger.Warn().Str("username", username).Str("result", string(result)).Msg("Login rejected")
		return model.Principal{}, model.Errorf(model.KindPermissionDenied, model.ErrCodeAuthError, "login failed: %s", result)
	}
	return model.Principal{UserID: user.ID, Username: user.Username, IsSuperuser: user.IsSuperuser}, nil
}
