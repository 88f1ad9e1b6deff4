package retention

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/openadcm/adcm/pkg/audit"
)

// CSV headers of the archive members.
var (
	OperationHeader = []string{"id", "operation_name", "operation_type", "operation_result", "operation_time", "object_changes", "user_id", "audit_object_id"}
	LoginHeader     = []string{"id", "user_id", "login_result", "login_time", "login_details"}
	ObjectHeader    = []string{"id", "object_id", "object_name", "object_type", "is_deleted"}
)

const archiveTimeLayout = "2006-01-02 15:04:05.000000-07:00"

func optionalID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func encodeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// archiveMembers renders a batch as the three CSV members keyed by file name.
func archiveMembers(date string, b *audit.Batch) ([]string, map[string][]byte, error) {
	var ops, logins, objects [][]string
	seen := map[int64]bool{}
	addObject := func(o audit.Object) {
		if seen[o.ID] {
			return
		}
		seen[o.ID] = true
		objects = append(objects, []string{
			strconv.FormatInt(o.ID, 10),
			strconv.FormatInt(o.ObjectID, 10),
			o.ObjectName,
			string(o.ObjectType),
			strconv.FormatBool(o.IsDeleted),
		})
	}
	for _, op := range b.Operations {
		changes, err := json.Marshal(op.Changes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode object changes of operation %d: %w", op.ID, err)
		}
		objectID := ""
		if op.Object != nil {
			objectID = strconv.FormatInt(op.Object.ID, 10)
			addObject(*op.Object)
		}
		ops = append(ops, []string{
			strconv.FormatInt(op.ID, 10),
			op.Name,
			string(op.Type),
			string(op.Result),
			op.Time.Format(archiveTimeLayout),
			string(changes),
			optionalID(op.UserID),
			objectID,
		})
	}
	for _, o := range b.Objects {
		addObject(o)
	}
	for _, l := range b.Logins {
		details, err := json.Marshal(l.Details)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode details of login %d: %w", l.ID, err)
		}
		logins = append(logins, []string{
			strconv.FormatInt(l.ID, 10),
			optionalID(l.UserID),
			string(l.Result),
			l.Time.Format(archiveTimeLayout),
			string(details),
		})
	}

	names := []string{
		"audit_" + date + "_operations.csv",
		"audit_" + date + "_logins.csv",
		"audit_" + date + "_objects.csv",
	}
	members := map[string][]byte{}
	for i, m := range []struct {
		header []string
		rows   [][]string
	}{{OperationHeader, ops}, {LoginHeader, logins}, {ObjectHeader, objects}} {
		data, err := encodeCSV(m.header, m.rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode %s: %w", names[i], err)
		}
		members[names[i]] = data
	}
	return names, members, nil
}

// WriteArchive writes the batch to dir/audit_<date>.tar.gz and returns the path.
// An existing archive of the same date is replaced.
func WriteArchive(_ context.Context, dir string, now time.Time, b *audit.Batch) (string, error) {
	date := now.Format("2006-01-02")
	names, members, err := archiveMembers(date, b)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := filepath.Join(dir, "audit_"+date+".tar.gz")
	tmp, err := os.CreateTemp(dir, ".audit-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		data := members[name]
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), ModTime: now}
		if err := tw.WriteHeader(hdr); err != nil {
			_ = tmp.Close()
			return "", fmt.Errorf("failed to write archive header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			_ = tmp.Close()
			return "", fmt.Errorf("failed to write archive member %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to compress archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	return path, nil
}
