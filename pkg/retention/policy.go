package retention

import (
	"fmt"

	"github.com/openadcm/adcm/pkg/model"
)

// Policy holds the rotation knobs in days. Zero disables a target.
type Policy struct {
	JobsOnFS     int  `mapstructure:"jobs_on_fs"`
	JobsInDB     int  `mapstructure:"jobs_in_db"`
	ConfigInDB   int  `mapstructure:"config_in_db"`
	AuditDays    int  `mapstructure:"audit_retention_period"`
	AuditArchive bool `mapstructure:"audit_data_archiving"`
}

// Validate rejects negative periods.
func (p Policy) Validate() error {
	for name, v := range map[string]int{
		"jobs_on_fs":             p.JobsOnFS,
		"jobs_in_db":             p.JobsInDB,
		"config_in_db":           p.ConfigInDB,
		"audit_retention_period": p.AuditDays,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// Override applies the rotation settings stored in the ADCM config:
// job_log.log_rotation_on_fs, job_log.log_rotation_in_db,
// config_rotation.config_rotation_in_db, audit_data_retention.retention_period
// and audit_data_retention.data_archiving. Missing keys keep the file settings.
func (p Policy) Override(cfg model.Tree) Policy {
	if v, ok := days(cfg, "job_log", "log_rotation_on_fs"); ok {
		p.JobsOnFS = v
	}
	if v, ok := days(cfg, "job_log", "log_rotation_in_db"); ok {
		p.JobsInDB = v
	}
	if v, ok := days(cfg, "config_rotation", "config_rotation_in_db"); ok {
		p.ConfigInDB = v
	}
	if v, ok := days(cfg, "audit_data_retention", "retention_period"); ok {
		p.AuditDays = v
	}
	if group, ok := cfg["audit_data_retention"].(map[string]interface{}); ok {
		if b, ok := group["data_archiving"].(bool); ok {
			p.AuditArchive = b
		}
	}
	return p
}

func days(cfg model.Tree, group, key string) (int, bool) {
	g, ok := cfg[group].(map[string]interface{})
	if !ok {
		return 0, false
	}
	switch v := g[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
