package rbac

import (
	"context"
	"fmt"
	"slices"

	"github.com/open-policy-agent/opa/rego"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

// Verbs.
const (
	VerbView         = "view"
	VerbAdd          = "add"
	VerbChange       = "change"
	VerbDelete       = "delete"
	VerbChangeConfig = "change_config"
	VerbRunAction    = "run_action"
	VerbMapHosts     = "map_hosts"
	VerbUpgrade      = "upgrade"
	VerbMaintenance  = "change_maintenance_mode"
	VerbImports      = "change_imports"
)

// Object types that are not entities.
const (
	ObjectBundle model.ObjectType = "bundle"
	ObjectUser   model.ObjectType = "user"
	ObjectGroup  model.ObjectType = "group"
	ObjectRole   model.ObjectType = "role"
	ObjectPolicy model.ObjectType = "policy"
	ObjectAudit  model.ObjectType = "audit"
)

// Permission renders a permission string.
func Permission(verb string, t model.ObjectType) string {
	return verb + ":" + string(t)
}

// DefaultModule is the Rego module used when none is configured.
const DefaultModule = `package adcm.authz

import rego.v1

default allow := false

allow if {
	input.user.active
	input.user.superuser
}

allow if {
	input.user.active
	some p in input.policies
	applies(p)
	permitted(p)
	in_scope(p)
}

applies(p) if input.user.id in p.users

applies(p) if {
	some g in input.user.groups
	g in p.groups
}

permitted(p) if {
	some perm in p.permissions
	grants(perm)
}

grants(perm) if perm == sprintf("%s:%s", [input.verb, input.object.type])
grants(perm) if perm == sprintf("%s:*", [input.verb])
grants(perm) if perm == sprintf("*:%s", [input.object.type])
grants(perm) if perm == "*:*"

in_scope(p) if count(p.objects) == 0

in_scope(p) if {
	some o in p.objects
	some s in input.scope
	o.type == s.type
	o.id == s.id
}
`

// Query is the decision evaluated against the module.
const Query = "data.adcm.authz.allow"

type inputUser struct {
	ID        int64   `json:"id"`
	Active    bool    `json:"active"`
	Superuser bool    `json:"superuser"`
	Groups    []int64 `json:"groups"`
}

type inputPolicy struct {
	ID          int64       `json:"id"`
	Users       []int64     `json:"users"`
	Groups      []int64     `json:"groups"`
	Objects     []model.Ref `json:"objects"`
	Permissions []string    `json:"permissions"`
}

// Input is the document a decision is made on.
type Input struct {
	User     inputUser     `json:"user"`
	Verb     string        `json:"verb"`
	Object   model.Ref     `json:"object"`
	Scope    []model.Ref   `json:"scope"`
	Policies []inputPolicy `json:"policies"`
}

// Authorizer answers can(principal, verb, object).
type Authorizer struct {
	logger zerolog.Logger
	query  rego.PreparedEvalQuery
}

// NewAuthorizer compiles a Rego module defining data.adcm.authz.allow. An empty
// module selects DefaultModule.
func NewAuthorizer(ctx context.Context, logger zerolog.Logger, module string) (*Authorizer, error) {
	if module == "" {
		module = DefaultModule
	}
	query, err := rego.New(
		rego.Module("authz.rego", module),
		rego.Query(Query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare authorization policy: %w", err)
	}
	return &Authorizer{
		logger: logger.With().Str("component", "rbac").Logger(),
		query:  query,
	}, nil
}

// BuildInput builds the decision input for a principal.
func BuildInput(tx *stores.Tx, p model.Principal, verb string, obj model.Ref) (Input, error) {
	in := Input{
		Verb:     verb,
		Object:   obj,
		Scope:    append([]model.Ref{obj}, tx.Parents(obj)...),
		Policies: []inputPolicy{},
	}
	if p.UserID == 0 {
		in.User = inputUser{Active: p.IsSuperuser, Superuser: p.IsSuperuser, Groups: []int64{}}
		return in, nil
	}
	user, err := tx.User(p.UserID)
	if err != nil {
		return Input{}, err
	}
	in.User = inputUser{
		ID:        user.ID,
		Active:    user.IsActive,
		Superuser: user.IsSuperuser,
		Groups:    slices.Clone(user.GroupIDs),
	}
	if in.User.Groups == nil {
		in.User.Groups = []int64{}
	}

	for _, pol := range PoliciesOf(tx, user.ID, user.GroupIDs) {
		perms, err := Permissions(tx, pol.RoleID)
		if err != nil {
			return Input{}, err
		}
		in.Policies = append(in.Policies, inputPolicy{
			ID:          pol.ID,
			Users:       nonNil(pol.UserIDs),
			Groups:      nonNil(pol.GroupIDs),
			Objects:     append([]model.Ref{}, pol.Objects...),
			Permissions: perms,
		})
	}
	return in, nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// Authorize reports whether p may apply verb to obj.
func (a *Authorizer) Authorize(ctx context.Context, tx *stores.Tx, p model.Principal, verb string, obj model.Ref) (bool, error) {
	in, err := BuildInput(tx, p, verb, obj)
	if err != nil {
		return false, err
	}
	return a.decide(ctx, p, in)
}

func (a *Authorizer) decide(ctx context.Context, p model.Principal, in Input) (bool, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate authorization policy: %w", err)
	}
	allowed := rs.Allowed()
	a.logger.Debug().
		Str("user", p.Username).
		Str("verb", in.Verb).
		Str("object", in.Object.String()).
		Bool("allowed", allowed).
		Msg("Authorization decision")
	return allowed, nil
}

// Check returns a PermissionDenied error unless p may apply verb to obj.
func (a *Authorizer) Check(ctx context.Context, tx *stores.Tx, p model.Principal, verb string, obj model.Ref) error {
	ok, err := a.Authorize(ctx, tx, p, verb, obj)
	if err != nil {
		return err
	}
	if !ok {
		return denied(p, verb, obj)
	}
	return nil
}

// CheckUnder is Check for an object of type t that does not exist yet, such as
// a service being added to a cluster. Policies on parent and its ancestors apply.
func (a *Authorizer) CheckUnder(ctx context.Context, tx *stores.Tx, p model.Principal, verb string, t model.ObjectType, parent model.Ref) error {
	in, err := BuildInput(tx, p, verb, parent)
	if err != nil {
		return err
	}
	in.Object = model.NewRef(t, 0)
	ok, err := a.decide(ctx, p, in)
	if err != nil {
		return err
	}
	if !ok {
		return denied(p, verb, in.Object)
	}
	return nil
}

func denied(p model.Principal, verb string, obj model.Ref) error {
	return model.Errorf(model.KindPermissionDenied, model.ErrCodeAccessDenied,
		"user %q may not %s %s", p.Username, verb, obj)
}
