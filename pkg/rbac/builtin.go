package rbac

import (
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

type builtinRole struct {
	name           string
	display        string
	typ            model.RoleType
	parametrizedBy []model.ObjectType
	children       []string
	permissions    []string
}

var clusterSpace = []model.ObjectType{model.TypeCluster, model.TypeService, model.TypeComponent, model.TypeHost}

func perms(verb string, types ...model.ObjectType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, Permission(verb, t))
	}
	return out
}

func join(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// builtinRoles is ordered so that children precede their parents.
var builtinRoles = []builtinRole{
	{name: "view_objects", display: "View objects", typ: model.RoleHidden,
		permissions: perms(VerbView, model.TypeCluster, model.TypeService, model.TypeComponent, model.TypeProvider, model.TypeHost)},
	{name: "view_configurations", display: "View configurations", typ: model.RoleRole,
		parametrizedBy: clusterSpace, children: []string{"view_objects"},
		permissions:    perms(VerbView, model.TypeCluster, model.TypeService, model.TypeComponent, model.TypeHost)},
	{name: "edit_configurations", display: "Edit configurations", typ: model.RoleRole,
		parametrizedBy: clusterSpace, children: []string{"view_configurations"},
		permissions:    perms(VerbChangeConfig, model.TypeCluster, model.TypeService, model.TypeComponent, model.TypeHost)},
	{name: "run_actions", display: "Run actions", typ: model.RoleRole,
		parametrizedBy: clusterSpace, children: []string{"view_objects"},
		permissions:    perms(VerbRunAction, model.TypeCluster, model.TypeService, model.TypeComponent, model.TypeHost)},
	{name: "manage_maintenance_mode", display: "Manage maintenance mode", typ: model.RoleRole,
		parametrizedBy: clusterSpace, children: []string{"view_objects"},
		permissions:    perms(VerbMaintenance, model.TypeService, model.TypeComponent, model.TypeHost)},
	{name: "map_hosts", display: "Map hosts", typ: model.RoleRole,
		parametrizedBy: []model.ObjectType{model.TypeCluster}, children: []string{"view_objects"},
		permissions:    join(perms(VerbMapHosts, model.TypeCluster), perms(VerbChange, model.TypeHost))},
	{name: "manage_imports", display: "Manage imports", typ: model.RoleRole,
		parametrizedBy: []model.ObjectType{model.TypeCluster, model.TypeService}, children: []string{"view_objects"},
		permissions:    perms(VerbImports, model.TypeCluster, model.TypeService)},
	{name: "upgrade", display: "Upgrade objects", typ: model.RoleRole,
		parametrizedBy: []model.ObjectType{model.TypeCluster, model.TypeProvider}, children: []string{"view_objects"},
		permissions:    join(perms(VerbUpgrade, model.TypeCluster, model.TypeProvider), perms(VerbView, ObjectBundle))},
	{name: "manage_services", display: "Add and remove services", typ: model.RoleRole,
		parametrizedBy: []model.ObjectType{model.TypeCluster}, children: []string{"view_objects"},
		permissions:    perms("*", model.TypeService)},
	{name: "manage_hosts", display: "Create and remove hosts", typ: model.RoleRole,
		parametrizedBy: []model.ObjectType{model.TypeProvider}, children: []string{"view_objects"},
		permissions:    join(perms(VerbAdd, model.TypeHost), perms(VerbDelete, model.TypeHost))},
	{name: "manage_bundles", display: "Upload and remove bundles", typ: model.RoleRole,
		permissions: perms("*", ObjectBundle)},
	{name: "create_clusters", display: "Create clusters", typ: model.RoleRole,
		permissions: join(perms(VerbAdd, model.TypeCluster), perms(VerbView, ObjectBundle))},
	{name: "create_providers", display: "Create providers", typ: model.RoleRole,
		permissions: join(perms(VerbAdd, model.TypeProvider), perms(VerbView, ObjectBundle))},
	{name: "view_audit", display: "View audit", typ: model.RoleRole,
		permissions: perms(VerbView, ObjectAudit)},
	{name: "manage_users", display: "Manage users and groups", typ: model.RoleRole,
		permissions: join(perms("*", ObjectUser), perms("*", ObjectGroup))},
	{name: "manage_policies", display: "Manage roles and policies", typ: model.RoleRole,
		permissions: join(perms("*", ObjectRole), perms("*", ObjectPolicy))},

	{name: "adcm_user", display: "ADCM User", typ: model.RoleBusiness,
		children: []string{"view_objects", "create_clusters", "create_providers"}},
	{name: "cluster_administrator", display: "Cluster Administrator", typ: model.RoleBusiness,
		parametrizedBy: []model.ObjectType{model.TypeCluster},
		children: []string{"edit_configurations", "run_actions", "manage_maintenance_mode", "map_hosts",
			"manage_imports", "upgrade", "manage_services"},
		permissions: join(perms(VerbChange, model.TypeCluster), perms(VerbDelete, model.TypeCluster))},
	{name: "service_administrator", display: "Service Administrator", typ: model.RoleBusiness,
		parametrizedBy: []model.ObjectType{model.TypeService},
		children:       []string{"edit_configurations", "run_actions", "manage_maintenance_mode", "manage_imports"}},
	{name: "provider_administrator", display: "Provider Administrator", typ: model.RoleBusiness,
		parametrizedBy: []model.ObjectType{model.TypeProvider},
		children:       []string{"manage_hosts", "upgrade"},
		permissions: join(perms(VerbChange, model.TypeProvider), perms(VerbDelete, model.TypeProvider),
			perms(VerbChangeConfig, model.TypeProvider, model.TypeHost), perms(VerbRunAction, model.TypeProvider, model.TypeHost))},
	{name: "adcm_administrator", display: "ADCM Administrator", typ: model.RoleBusiness,
		children: []string{"manage_bundles", "view_audit", "manage_users", "manage_policies"},
		permissions: join(perms(VerbView, model.TypeADCM), perms(VerbChangeConfig, model.TypeADCM),
			perms(VerbRunAction, model.TypeADCM))},
}

// AdminUsername is the built-in superuser created by Bootstrap.
const AdminUsername = "admin"

// Bootstrap creates the missing built-in roles and, when adminPassword is not
// empty and no admin exists, the built-in admin user. It is idempotent.
func (d *Directory) Bootstrap(tx *stores.Tx, adminPassword string) error {
	ids := map[string]int64{}
	for _, r := range tx.Roles.Find(func(r *model.Role) bool { return r.BuiltIn }) {
		ids[r.Name] = r.ID
	}
	created := 0
	for _, def := range builtinRoles {
		if _, ok := ids[def.name]; ok {
			continue
		}
		role := &model.Role{
			Name:           def.name,
			DisplayName:    def.display,
			BuiltIn:        true,
			Type:           def.typ,
			ParametrizedBy: def.parametrizedBy,
			Permissions:    def.permissions,
		}
		for _, c := range def.children {
			role.ChildIDs = append(role.ChildIDs, ids[c])
		}
		ids[def.name] = tx.Roles.Insert(role)
		created++
	}
	if created > 0 {
		d.logger.Info().Int("roles", created).Msg("Built-in roles created")
	}

	if adminPassword == "" {
		return nil
	}
	if _, ok := tx.Users.First(func(u *model.User) bool { return u.Username == AdminUsername }); ok {
		return nil
	}
	hash, err := d.hash(adminPassword)
	if err != nil {
		return err
	}
	admin := &model.User{
		Username:     AdminUsername,
		PasswordHash: hash,
		IsSuperuser:  true,
		IsActive:     true,
		BuiltIn:      true,
		Type:         model.OriginLocal,
	}
	tx.Users.Insert(admin)
	d.logger.Info().Int64("user_id", admin.ID).Msg("Built-in admin user created")
	return nil
}
