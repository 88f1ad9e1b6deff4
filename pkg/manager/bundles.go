package manager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/spf13/afero"
)

// Audit operation names of the bundle lifecycle.
const (
	opBundleUploaded = "Bundle uploaded"
	opBundleLoaded   = "Bundle loaded"
	opBundleDeleted  = "Bundle deleted"
	opLicenseAccept  = "Bundle license accepted"
)

var bundleRoot = model.NewRef(rbac.ObjectBundle, 0)

// UploadBundle copies a bundle file or directory into the bundle directory and
// returns the stored path.
func (m *Manager) UploadBundle(ctx context.Context, p model.Principal, src string) (string, error) {
	dest := filepath.Join(m.settings.BundleDir, filepath.Base(filepath.Clean(src)))
	c := &command{
		name:      "bundle.upload",
		principal: p,
		verb:      rbac.VerbAdd,
		object:    bundleRoot,
		roots:     []model.Ref{stores.GlobalRoot},
		op:        auditEntry(opBundleUploaded, model.OperationCreate, model.Ref{}, filepath.Base(src)),
		mutate: func(*stores.Tx) error {
			return m.copyBundle(src, dest)
		},
	}
	if err := m.exec(ctx, c); err != nil {
		return "", err
	}
	return dest, nil
}

// copyBundle copies src from the OS filesystem into the manager filesystem.
func (m *Manager) copyBundle(src, dest string) error {
	osfs := afero.NewOsFs()
	info, err := osfs.Stat(src)
	if err != nil {
		return model.NotFound(model.ErrCodeBundleNotFound, "bundle %s not found", src).WithErr(err)
	}
	if !info.IsDir() {
		return copyFile(osfs, m.fs, src, dest)
	}
	return afero.Walk(osfs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if fi.IsDir() {
			return m.fs.MkdirAll(target, 0o755)
		}
		return copyFile(osfs, m.fs, path, target)
	})
}

func copyFile(from, to afero.Fs, src, dest string) error {
	in, err := from.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	if err := to.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := to.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// parseBundle loads and validates a bundle file or directory.
func (m *Manager) parseBundle(path string) (*definition.Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, model.NotFound(model.ErrCodeBundleNotFound, "bundle %s not found", path).WithErr(err)
	}
	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && definition.IsBundleFile(e.Name()) {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	} else {
		files = []string{path}
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		if err := m.schemas.ValidateDocument(data); err != nil {
			return nil, model.Errorf(model.KindInvalidInput, model.ErrCodeDefinitionError,
				"%s: %v", filepath.Base(f), err).WithErr(err)
		}
	}

	var def *definition.Definition
	if info.IsDir() {
		def, err = definition.LoadDir(path)
	} else {
		def, err = definition.LoadFile(path)
	}
	if err != nil {
		return nil, model.Errorf(model.KindInvalidInput, model.ErrCodeBundleError, "%v", err).WithErr(err)
	}
	if err := m.validator.Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadBundle parses a bundle and registers its prototypes and actions. A
// relative path is resolved against the bundle directory. Loading a bundle of
// type adcm creates the ADCM object on first load.
func (m *Manager) LoadBundle(ctx context.Context, p model.Principal, path string) (*definition.Bundle, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.settings.BundleDir, path)
	}
	var bundle *definition.Bundle
	c := &command{
		name:      "bundle.load",
		principal: p,
		verb:      rbac.VerbAdd,
		object:    bundleRoot,
		roots:     []model.Ref{stores.GlobalRoot},
		op:        auditEntry(opBundleLoaded, model.OperationCreate, model.Ref{}, filepath.Base(path)),
	}
	c.mutate = func(tx *stores.Tx) error {
		def, err := m.parseBundle(path)
		if err != nil {
			return err
		}
		bundle, err = m.registerBundle(tx, def)
		if err != nil {
			return err
		}
		c.op.Object = model.NewRef(rbac.ObjectBundle, bundle.ID)
		c.op.ObjectName = bundle.Name
		return nil
	}
	c.after = append(c.after, func(context.Context) {
		_ = m.tel.Events.PublishBundleLoaded(bundle.ID, bundle.Name, bundle.Version)
	})
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (m *Manager) registerBundle(tx *stores.Tx, def *definition.Definition) (*definition.Bundle, error) {
	b := def.Bundle
	dup, ok := tx.Bundles.First(func(o *definition.Bundle) bool {
		return o.Hash == b.Hash || (o.Name == b.Name && o.Version == b.Version && o.Edition == b.Edition)
	})
	if ok {
		return nil, model.Conflict(model.ErrCodeBundleConflict,
			"bundle %q %s (%s) is already loaded as #%d", b.Name, b.Version, b.Edition, dup.ID)
	}
	if err := m.checkMinVersion(def); err != nil {
		return nil, err
	}

	b.Date = time.Now().UTC()
	tx.Bundles.Insert(&b)

	parent := make(map[int]int)
	for svc, comps := range def.Components {
		for _, idx := range comps {
			parent[idx] = svc
		}
	}
	ids := make([]int64, len(def.Prototypes))
	for i, proto := range def.Prototypes {
		np := proto.Clone()
		np.BundleID = b.ID
		if svc, ok := parent[i]; ok {
			np.ParentID = ids[svc]
		}
		ids[i] = tx.Prototypes.Insert(np)
		for _, a := range def.Actions[i] {
			na := a.Clone()
			na.PrototypeID = ids[i]
			tx.Actions.Insert(na)
		}
	}

	if proto, idx := firstOfType(def, model.TypeADCM); proto != nil {
		if err := m.ensureADCM(tx, ids[idx]); err != nil {
			return nil, err
		}
	}

	m.logger.Info().
		Int64("bundle_id", b.ID).
		Str("bundle", b.Name).
		Str("version", b.Version).
		Int("prototypes", len(ids)).
		Msg("Bundle loaded")
	return &b, nil
}

func firstOfType(def *definition.Definition, t model.ObjectType) (*definition.Prototype, int) {
	for i, p := range def.Prototypes {
		if p.Type == t {
			return p, i
		}
	}
	return nil, -1
}

func (m *Manager) checkMinVersion(def *definition.Definition) error {
	v := m.settings.Version
	if v == "" || v == "dev" {
		return nil
	}
	for _, p := range def.Prototypes {
		if p.ADCMMinVersion != "" && definition.CompareVersions(v, p.ADCMMinVersion) < 0 {
			return model.Conflict(model.ErrCodeBundleError,
				"%s %q requires ADCM %s or later, running %s", p.Type, p.Name, p.ADCMMinVersion, v)
		}
	}
	return nil
}

// ensureADCM creates the ADCM object, or moves it to a newer adcm prototype
// keeping its config values.
func (m *Manager) ensureADCM(tx *stores.Tx, protoID int64) error {
	adcm, err := tx.ADCMObject()
	if err != nil {
		obj := &model.ADCM{Object: model.NewObject(protoID), Name: "ADCM"}
		tx.ADCM.Insert(obj)
		return m.configs.Init(tx, obj)
	}
	old, err := tx.Prototype(adcm.PrototypeID)
	if err != nil {
		return err
	}
	next, err := tx.Prototype(protoID)
	if err != nil {
		return err
	}
	if definition.CompareVersions(next.Version, old.Version) <= 0 {
		return nil
	}
	adcm.PrototypeID = protoID
	tx.ADCM.Put(adcm)
	return m.configs.Migrate(tx, adcm.Ref(), old, "upgrade")
}

// DeleteBundle removes a bundle no object is built from, with its files.
func (m *Manager) DeleteBundle(ctx context.Context, p model.Principal, id int64) error {
	ref := model.NewRef(rbac.ObjectBundle, id)
	var path string
	c := &command{
		name:      "bundle.delete",
		principal: p,
		verb:      rbac.VerbDelete,
		object:    ref,
		roots:     []model.Ref{stores.GlobalRoot},
		op:        auditEntry(opBundleDeleted, model.OperationDelete, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		b, err := tx.Bundle(id)
		if err != nil {
			return err
		}
		if used := bundleUsers(tx, id); len(used) > 0 {
			return model.Conflict(model.ErrCodeBundleConflict,
				"bundle %q is used by %s", b.Name, strings.Join(used, ", "))
		}
		protos := tx.PrototypesOf(id)
		for _, proto := range protos {
			tx.Actions.DeleteWhere(func(a *definition.Action) bool { return a.PrototypeID == proto.ID })
			tx.Prototypes.Delete(proto.ID)
		}
		tx.Bundles.Delete(id)
		path = b.Path
		return nil
	}
	c.after = append(c.after, func(context.Context) { m.removeBundleFiles(path) })
	return m.exec(ctx, c)
}

// bundleUsers names the objects built from prototypes of a bundle.
func bundleUsers(tx *stores.Tx, bundleID int64) []string {
	protos := make(map[int64]bool)
	for _, p := range tx.PrototypesOf(bundleID) {
		protos[p.ID] = true
	}
	var out []string
	for _, c := range tx.Clusters.Find(func(c *model.Cluster) bool { return protos[c.PrototypeID] }) {
		out = append(out, "cluster "+c.Name)
	}
	for _, pr := range tx.Providers.Find(func(pr *model.Provider) bool { return protos[pr.PrototypeID] }) {
		out = append(out, "provider "+pr.Name)
	}
	for _, h := range tx.Hosts.Find(func(h *model.Host) bool { return protos[h.PrototypeID] }) {
		out = append(out, "host "+h.FQDN)
	}
	for _, s := range tx.Services.Find(func(s *model.Service) bool { return protos[s.PrototypeID] }) {
		out = append(out, "service "+s.Name)
	}
	if a, err := tx.ADCMObject(); err == nil && protos[a.PrototypeID] {
		out = append(out, "ADCM")
	}
	return out
}

// removeBundleFiles deletes uploaded files; paths outside the bundle directory
// are left alone.
func (m *Manager) removeBundleFiles(path string) {
	if path == "" {
		return
	}
	rel, err := filepath.Rel(m.settings.BundleDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if err := m.fs.RemoveAll(path); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove bundle files")
	}
}

// AcceptLicense accepts the license of a bundle and of its prototypes.
func (m *Manager) AcceptLicense(ctx context.Context, p model.Principal, id int64) error {
	ref := model.NewRef(rbac.ObjectBundle, id)
	c := &command{
		name:      "bundle.license",
		principal: p,
		verb:      rbac.VerbChange,
		object:    ref,
		roots:     []model.Ref{stores.GlobalRoot},
		op:        auditEntry(opLicenseAccept, model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		b, err := tx.Bundle(id)
		if err != nil {
			return err
		}
		if b.License == model.LicenseAbsent {
			return model.Conflict(model.ErrCodeLicenseError, "bundle %q has no license", b.Name)
		}
		if b.License == model.LicenseAccepted {
			return nil
		}
		b.License = model.LicenseAccepted
		tx.Bundles.Put(b)
		for _, proto := range tx.PrototypesOf(id) {
			if proto.License == model.LicenseUnaccepted {
				proto.License = model.LicenseAccepted
				tx.Prototypes.Put(proto)
			}
		}
		return nil
	}
	return m.exec(ctx, c)
}

// License returns the license text of a bundle.
func (m *Manager) License(ctx context.Context, id int64) (model.LicenseState, string, error) {
	var state model.LicenseState
	var text string
	err := m.graph.View(ctx, func(tx *stores.Tx) error {
		b, err := tx.Bundle(id)
		if err != nil {
			return err
		}
		state, text = b.License, b.LicenseText
		return nil
	})
	return state, text, err
}

// Bundles lists the loaded bundles.
func (m *Manager) Bundles(ctx context.Context) ([]*definition.Bundle, error) {
	var out []*definition.Bundle
	err := m.graph.View(ctx, func(tx *stores.Tx) error {
		out = tx.Bundles.All()
		return nil
	})
	return out, err
}

// Prototypes lists the prototypes of a bundle.
func (m *Manager) Prototypes(ctx context.Context, bundleID int64) ([]*definition.Prototype, error) {
	var out []*definition.Prototype
	err := m.graph.View(ctx, func(tx *stores.Tx) error {
		if _, err := tx.Bundle(bundleID); err != nil {
			return err
		}
		out = tx.PrototypesOf(bundleID)
		return nil
	})
	return out, err
}

// checkLicense refuses objects of prototypes with an unaccepted license.
func checkLicense(proto *definition.Prototype) error {
	if proto.License == model.LicenseUnaccepted {
		return model.Conflict(model.ErrCodeLicenseError,
			"license for prototype %q %s is not accepted", proto.Name, proto.Version)
	}
	return nil
}
