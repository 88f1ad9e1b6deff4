package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

func ptr[T any](v T) *T { return &v }

type rbacFixture struct {
	g   *stores.Graph
	dir *Directory
	az  *Authorizer

	cluster, other, service, component, provider, host int64
}

func newRBACFixture(t *testing.T) *rbacFixture {
	t.Helper()
	ctx := context.Background()
	f := &rbacFixture{g: stores.NewGraph(zerolog.Nop(), nil), dir: NewDirectory(zerolog.Nop())}
	az, err := NewAuthorizer(ctx, zerolog.Nop(), "")
	if err != nil {
		t.Fatalf("NewAuthorizer() error = %v", err)
	}
	f.az = az

	err = f.g.Update(ctx, func(tx *stores.Tx) error {
		f.cluster = tx.Clusters.Insert(&model.Cluster{Object: model.NewObject(1), Name: "analytics"})
		f.other = tx.Clusters.Insert(&model.Cluster{Object: model.NewObject(1), Name: "billing"})
		f.service = tx.Services.Insert(&model.Service{Object: model.NewObject(2), ClusterID: f.cluster, Name: "zk", Title: "ZooKeeper"})
		f.component = tx.Components.Insert(&model.Component{Object: model.NewObject(3), ClusterID: f.cluster, ServiceID: f.service, Name: "server", Title: "Server"})
		f.provider = tx.Providers.Insert(&model.Provider{Object: model.NewObject(4), Name: "ssh"})
		f.host = tx.Hosts.Insert(&model.Host{Object: model.NewObject(5), ProviderID: f.provider, ClusterID: f.cluster, FQDN: "h1"})
		return f.dir.Bootstrap(tx, "admin-password-123")
	})
	if err != nil {
		t.Fatalf("setup error = %v", err)
	}
	return f
}

func (f *rbacFixture) update(t *testing.T, fn func(tx *stores.Tx) error) {
	t.Helper()
	if err := f.g.Update(context.Background(), fn); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func roleByName(t *testing.T, tx *stores.Tx, name string) *model.Role {
	t.Helper()
	r, ok := tx.Roles.First(func(r *model.Role) bool { return r.Name == name })
	if !ok {
		t.Fatalf("role %q not found", name)
	}
	return r
}

func (f *rbacFixture) allowed(t *testing.T, p model.Principal, verb string, obj model.Ref) bool {
	t.Helper()
	var ok bool
	err := f.g.View(context.Background(), func(tx *stores.Tx) error {
		var err error
		ok, err = f.az.Authorize(context.Background(), tx, p, verb, obj)
		return err
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return ok
}

func TestBootstrap_Idempotent(t *testing.T) {
	f := newRBACFixture(t)
	var before int
	f.update(t, func(tx *stores.Tx) error {
		before = tx.Roles.Count(nil)
		return f.dir.Bootstrap(tx, "admin-password-123")
	})
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		if got := tx.Roles.Count(nil); got != before {
			t.Errorf("roles after second bootstrap = %d, want %d", got, before)
		}
		if got := tx.Users.Count(nil); got != 1 {
			t.Errorf("users = %d, want 1", got)
		}
		return nil
	})
}

func TestPermissions_ExpandsChildren(t *testing.T) {
	f := newRBACFixture(t)
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		r := roleByName(t, tx, "cluster_administrator")
		got, err := Permissions(tx, r.ID)
		if err != nil {
			t.Fatalf("Permissions() error = %v", err)
		}
		for _, want := range []string{"view:cluster", "change_config:service", "map_hosts:cluster", "*:service", "delete:cluster"} {
			found := false
			for _, p := range got {
				if p == want {
					found = true
				}
			}
			if !found {
				t.Errorf("Permissions() missing %q in %v", want, got)
			}
		}
		return nil
	})
}

func TestAuthorize(t *testing.T) {
	f := newRBACFixture(t)
	var alice, bob, carol int64
	f.update(t, func(tx *stores.Tx) error {
		g, err := f.dir.CreateGroup(tx, GroupInput{Name: "operators"})
		if err != nil {
			return err
		}
		a, err := f.dir.CreateUser(tx, UserInput{Username: "alice", Password: ptr("alice-password-1")})
		if err != nil {
			return err
		}
		b, err := f.dir.CreateUser(tx, UserInput{Username: "bob", Password: ptr("bob-password-12"), GroupIDs: []int64{g.ID}})
		if err != nil {
			return err
		}
		c, err := f.dir.CreateUser(tx, UserInput{Username: "carol", Password: ptr("carol-password1"), IsActive: ptr(false)})
		if err != nil {
			return err
		}
		alice, bob, carol = a.ID, b.ID, c.ID
		admin := roleByName(t, tx, "cluster_administrator")
		if _, err := f.dir.CreatePolicy(tx, PolicyInput{
			Name: "alice-analytics", RoleID: admin.ID, UserIDs: []int64{alice, carol},
			Objects: []model.Ref{model.NewRef(model.TypeCluster, f.cluster)},
		}); err != nil {
			return err
		}
		user := roleByName(t, tx, "adcm_user")
		_, err = f.dir.CreatePolicy(tx, PolicyInput{Name: "operators", RoleID: user.ID, GroupIDs: []int64{g.ID}})
		return err
	})

	principal := func(id int64) model.Principal { return model.Principal{UserID: id} }
	tests := []struct {
		name string
		p    model.Principal
		verb string
		obj  model.Ref
		want bool
	}{
		{"system", model.System, VerbDelete, model.NewRef(model.TypeCluster, f.other), true},
		{"admin superuser", principal(1), VerbDelete, model.NewRef(model.TypeCluster, f.other), true},
		{"policy object", principal(alice), VerbChangeConfig, model.NewRef(model.TypeCluster, f.cluster), true},
		{"inherited by component", principal(alice), VerbRunAction, model.NewRef(model.TypeComponent, f.component), true},
		{"inherited by mapped host", principal(alice), VerbChangeConfig, model.NewRef(model.TypeHost, f.host), true},
		{"other cluster", principal(alice), VerbChangeConfig, model.NewRef(model.TypeCluster, f.other), false},
		{"verb not granted", principal(alice), VerbView, model.NewRef(ObjectAudit, 0), false},
		{"group policy", principal(bob), VerbAdd, model.NewRef(model.TypeCluster, 0), true},
		{"group policy view", principal(bob), VerbView, model.NewRef(model.TypeHost, f.host), true},
		{"group policy no change", principal(bob), VerbChangeConfig, model.NewRef(model.TypeCluster, f.cluster), false},
		{"inactive user", principal(carol), VerbChangeConfig, model.NewRef(model.TypeCluster, f.cluster), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.allowed(t, tt.p, tt.verb, tt.obj); got != tt.want {
				t.Errorf("Authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck_Denied(t *testing.T) {
	f := newRBACFixture(t)
	var uid int64
	f.update(t, func(tx *stores.Tx) error {
		u, err := f.dir.CreateUser(tx, UserInput{Username: "dave", Password: ptr("dave-password-1")})
		uid = u.ID
		return err
	})
	err := f.g.View(context.Background(), func(tx *stores.Tx) error {
		return f.az.Check(context.Background(), tx, model.Principal{UserID: uid, Username: "dave"},
			VerbDelete, model.NewRef(model.TypeCluster, f.cluster))
	})
	if !model.IsKind(err, model.KindPermissionDenied) || !model.HasCode(err, model.ErrCodeAccessDenied) {
		t.Errorf("Check() error = %v, want permission denied", err)
	}
}

func TestCheckUnder_ParentScope(t *testing.T) {
	f := newRBACFixture(t)
	var uid int64
	f.update(t, func(tx *stores.Tx) error {
		u, err := f.dir.CreateUser(tx, UserInput{Username: "erin", Password: ptr("erin-password-1")})
		if err != nil {
			return err
		}
		uid = u.ID
		_, err = f.dir.CreatePolicy(tx, PolicyInput{
			Name: "erin-services", RoleID: roleByName(t, tx, "manage_services").ID, UserIDs: []int64{uid},
			Objects: []model.Ref{model.NewRef(model.TypeCluster, f.cluster)},
		})
		return err
	})
	p := model.Principal{UserID: uid, Username: "erin"}
	check := func(parent int64) error {
		return f.g.View(context.Background(), func(tx *stores.Tx) error {
			return f.az.CheckUnder(context.Background(), tx, p, VerbAdd, model.TypeService, model.NewRef(model.TypeCluster, parent))
		})
	}
	if err := check(f.cluster); err != nil {
		t.Errorf("CheckUnder(own cluster) error = %v", err)
	}
	if err := check(f.other); !model.IsKind(err, model.KindPermissionDenied) {
		t.Errorf("CheckUnder(other cluster) error = %v, want permission denied", err)
	}
}

func TestRoles_CycleAndBuiltinRules(t *testing.T) {
	f := newRBACFixture(t)
	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		view := roleByName(t, tx, "view_configurations")
		run := roleByName(t, tx, "run_actions")
		a, err := f.dir.CreateRole(tx, RoleInput{Name: "a", ChildIDs: []int64{view.ID}})
		if err != nil {
			return err
		}
		b, err := f.dir.CreateRole(tx, RoleInput{Name: "b", ChildIDs: []int64{a.ID, run.ID}})
		if err != nil {
			return err
		}

		_, _, err = f.dir.UpdateRole(tx, a.ID, RoleInput{ChildIDs: []int64{b.ID}})
		if !model.HasCode(err, model.ErrCodeRoleUpdate) {
			t.Errorf("UpdateRole(cycle) error = %v, want %s", err, model.ErrCodeRoleUpdate)
		}
		_, _, err = f.dir.UpdateRole(tx, a.ID, RoleInput{ChildIDs: []int64{a.ID}})
		if !model.HasCode(err, model.ErrCodeRoleUpdate) {
			t.Errorf("UpdateRole(self) error = %v, want %s", err, model.ErrCodeRoleUpdate)
		}

		_, err = f.dir.DeleteRole(tx, view.ID)
		if e, ok := model.AsError(err); !ok || e.Code != model.ErrCodeRoleDelete || e.HTTPStatus() != 405 {
			t.Errorf("DeleteRole(built-in) error = %v, want %s with 405", err, model.ErrCodeRoleDelete)
		}
		_, err = f.dir.DeleteRole(tx, a.ID)
		if !model.HasCode(err, model.ErrCodeRoleDelete) {
			t.Errorf("DeleteRole(child) error = %v, want %s", err, model.ErrCodeRoleDelete)
		}

		_, changes, err := f.dir.UpdateRole(tx, b.ID, RoleInput{DisplayName: "B", ChildIDs: []int64{run.ID}})
		if err != nil {
			t.Fatalf("UpdateRole() error = %v", err)
		}
		if changes.Current["display_name"] != "B" || changes.Previous["display_name"] != "b" {
			t.Errorf("changes = %+v", changes)
		}
		if _, ok := changes.Current["description"]; ok {
			t.Errorf("unchanged description in diff: %+v", changes)
		}
		if _, err := f.dir.DeleteRole(tx, a.ID); err != nil {
			t.Errorf("DeleteRole() error = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUsers_Rules(t *testing.T) {
	f := newRBACFixture(t)
	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		_, err := f.dir.CreateUser(tx, UserInput{Username: "short", Password: ptr("abc")})
		if !model.IsKind(err, model.KindUserPasswordError) {
			t.Errorf("short password error = %v", err)
		}
		u, err := f.dir.CreateUser(tx, UserInput{Username: "erin", Email: ptr("erin@example.com"), Password: ptr("erin-password-1")})
		if err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		_, err = f.dir.CreateUser(tx, UserInput{Username: "erin2", Email: ptr("erin@example.com"), Password: ptr("erin-password-1")})
		if !model.HasCode(err, model.ErrCodeUserConflict) {
			t.Errorf("duplicate email error = %v", err)
		}
		if _, err := f.dir.CreateUser(tx, UserInput{Username: "x1", Password: ptr("x1-password-12")}); err != nil {
			t.Errorf("empty email rejected: %v", err)
		}
		if _, err := f.dir.CreateUser(tx, UserInput{Username: "x2", Password: ptr("x2-password-12")}); err != nil {
			t.Errorf("second empty email rejected: %v", err)
		}
		_, err = f.dir.CreateUser(tx, UserInput{Username: "bad", Email: ptr("not-an-email"), Password: ptr("bad-password-12")})
		if !model.IsKind(err, model.KindUserCreateError) {
			t.Errorf("bad email error = %v", err)
		}

		_, err = f.dir.BlockUser(tx, model.Principal{UserID: u.ID}, u.ID)
		if !model.HasCode(err, model.ErrCodeUserBlock) {
			t.Errorf("self block error = %v", err)
		}

		ldap := &model.User{Username: "lena", IsActive: true, Type: model.OriginLDAP}
		tx.Users.Insert(ldap)
		_, err = f.dir.BlockUser(tx, model.Principal{UserID: 1}, ldap.ID)
		if !model.HasCode(err, model.ErrCodeUserBlock) {
			t.Errorf("ldap block error = %v", err)
		}
		_, _, err = f.dir.UpdateUser(tx, ldap.ID, UserInput{FirstName: ptr("Lena")})
		if !model.HasCode(err, model.ErrCodeUserUpdate) {
			t.Errorf("ldap update error = %v", err)
		}
		ldapGroup := &model.Group{Name: "cn=ops", DisplayName: "ops", Type: model.OriginLDAP}
		tx.Groups.Insert(ldapGroup)
		_, _, err = f.dir.UpdateUser(tx, ldap.ID, UserInput{GroupIDs: []int64{ldapGroup.ID}})
		if !model.HasCode(err, model.ErrCodeGroupUpdate) {
			t.Errorf("ldap group membership error = %v", err)
		}
		_, _, err = f.dir.UpdateGroup(tx, ldapGroup.ID, GroupInput{UserIDs: []int64{u.ID}})
		if !model.HasCode(err, model.ErrCodeGroupUpdate) {
			t.Errorf("ldap group update error = %v", err)
		}

		_, changes, err := f.dir.UpdateUser(tx, u.ID, UserInput{LastName: ptr("Smith"), Email: ptr("erin@example.com")})
		if err != nil {
			t.Fatalf("UpdateUser() error = %v", err)
		}
		if len(changes.Current) != 1 || changes.Current["last_name"] != "Smith" || changes.Previous["last_name"] != "" {
			t.Errorf("changes = %+v", changes)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAuthenticate_BlocksAfterFailures(t *testing.T) {
	f := newRBACFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.dir.now = func() time.Time { return now }
	f.dir.SetPasswordPolicy(PasswordPolicy{MinLength: 12, MaxLength: 128, LoginAttemptLimit: 2, BlockTime: time.Minute})

	login := func(user, pass string) model.LoginResult {
		var res model.LoginResult
		f.update(t, func(tx *stores.Tx) error {
			_, res = f.dir.Authenticate(tx, user, pass)
			return nil
		})
		return res
	}

	steps := []struct {
		user, pass string
		advance    time.Duration
		want       model.LoginResult
	}{
		{"ghost", "whatever", 0, model.LoginUserNotFound},
		{"admin", "admin-password-123", 0, model.LoginSuccess},
		{"admin", "wrong", 0, model.LoginWrongPassword},
		{"admin", "wrong", 0, model.LoginWrongPassword},
		{"admin", "admin-password-123", 0, model.LoginAccountDisabled},
		{"admin", "admin-password-123", 2 * time.Minute, model.LoginSuccess},
	}
	for i, s := range steps {
		now = now.Add(s.advance)
		if got := login(s.user, s.pass); got != s.want {
			t.Errorf("step %d: Authenticate(%s) = %s, want %s", i, s.user, got, s.want)
		}
	}
}

func TestGroups_MembershipDiff(t *testing.T) {
	f := newRBACFixture(t)
	f.update(t, func(tx *stores.Tx) error {
		u, err := f.dir.CreateUser(tx, UserInput{Username: "frank", Password: ptr("frank-password1")})
		if err != nil {
			return err
		}
		g, err := f.dir.CreateGroup(tx, GroupInput{Name: "devs"})
		if err != nil {
			return err
		}
		_, changes, err := f.dir.UpdateGroup(tx, g.ID, GroupInput{UserIDs: []int64{u.ID}})
		if err != nil {
			return err
		}
		users, _ := changes.Current["user"].([]string)
		if len(users) != 1 || users[0] != "frank" {
			t.Errorf("changes = %+v", changes)
		}
		if _, err := f.dir.DeleteGroup(tx, g.ID); err != nil {
			return err
		}
		got, _ := tx.User(u.ID)
		if len(got.GroupIDs) != 0 {
			t.Errorf("GroupIDs after group delete = %v", got.GroupIDs)
		}
		return nil
	})
}

func TestPolicies_Validation(t *testing.T) {
	f := newRBACFixture(t)
	f.update(t, func(tx *stores.Tx) error {
		u, err := f.dir.CreateUser(tx, UserInput{Username: "gina", Password: ptr("gina-password-1")})
		if err != nil {
			return err
		}
		clusterAdmin := roleByName(t, tx, "cluster_administrator")
		hidden := roleByName(t, tx, "view_objects")
		cases := []struct {
			name string
			in   PolicyInput
		}{
			{"hidden role", PolicyInput{Name: "p1", RoleID: hidden.ID, UserIDs: []int64{u.ID}}},
			{"no subjects", PolicyInput{Name: "p2", RoleID: clusterAdmin.ID, Objects: []model.Ref{model.NewRef(model.TypeCluster, f.cluster)}}},
			{"missing objects", PolicyInput{Name: "p3", RoleID: clusterAdmin.ID, UserIDs: []int64{u.ID}}},
			{"wrong object type", PolicyInput{Name: "p4", RoleID: clusterAdmin.ID, UserIDs: []int64{u.ID},
				Objects: []model.Ref{model.NewRef(model.TypeProvider, f.provider)}}},
			{"unknown role", PolicyInput{Name: "p5", RoleID: 9999, UserIDs: []int64{u.ID}}},
		}
		for _, c := range cases {
			if _, err := f.dir.CreatePolicy(tx, c.in); err == nil {
				t.Errorf("%s: CreatePolicy() error = nil", c.name)
			}
		}

		p, err := f.dir.CreatePolicy(tx, PolicyInput{Name: "ok", RoleID: clusterAdmin.ID, UserIDs: []int64{u.ID},
			Objects: []model.Ref{model.NewRef(model.TypeCluster, f.cluster), model.NewRef(model.TypeCluster, f.other)}})
		if err != nil {
			t.Fatalf("CreatePolicy() error = %v", err)
		}
		if emptied := DropObject(tx, model.NewRef(model.TypeCluster, f.other)); len(emptied) != 0 {
			t.Errorf("DropObject() emptied = %v", emptied)
		}
		if emptied := DropObject(tx, model.NewRef(model.TypeCluster, f.cluster)); len(emptied) != 1 || emptied[0] != p.ID {
			t.Errorf("DropObject() emptied = %v, want [%d]", emptied, p.ID)
		}
		return nil
	})
}

func TestDiff(t *testing.T) {
	prev := Snapshot{"a": 1, "b": []string{"x"}, "gone": true}
	cur := Snapshot{"a": 1, "b": []string{"x", "y"}, "new": "v"}
	got := Diff(prev, cur)
	if _, ok := got.Current["a"]; ok {
		t.Errorf("unchanged field in diff: %+v", got)
	}
	if _, ok := got.Current["new"]; !ok {
		t.Errorf("added field missing: %+v", got)
	}
	if _, ok := got.Previous["gone"]; !ok {
		t.Errorf("removed field missing: %+v", got)
	}
	if _, ok := got.Previous["new"]; ok {
		t.Errorf("added field has previous value: %+v", got)
	}
	if Diff(cur, cur).Empty() != true {
		t.Error("Diff(x, x) is not empty")
	}
}
