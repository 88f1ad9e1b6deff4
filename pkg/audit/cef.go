package audit

import (
	"fmt"
	"strings"
	"time"
)

const (
	cefVendor  = "Arenadata Software"
	cefProduct = "Arenadata Cluster Manager"
	// CEFTimeLayout renders YYYY-MM-DD HH:MM:SS.ffffff±HH:MM.
	CEFTimeLayout = "2006-01-02 15:04:05.000000-07:00"
)

var (
	headerEscaper    = strings.NewReplacer(`\`, `\\`, `|`, `\|`)
	extensionEscaper = strings.NewReplacer(`\`, `\\`, `=`, `\=`, "\n", `\n`, "\r", `\r`)
)

// Severity returns the CEF severity of a result.
func Severity(result string) int {
	if result == "denied" {
		return 3
	}
	return 1
}

// FormatCEF renders one operation as a CEF line without a trailing newline.
func FormatCEF(version, signature string, op *Operation, actor, resource string) string {
	ext := []string{
		"actor=" + extensionEscaper.Replace(actor),
		"act=" + extensionEscaper.Replace(string(op.Type)),
		"operation=" + extensionEscaper.Replace(op.Name),
		"resource=" + extensionEscaper.Replace(resource),
		"result=" + extensionEscaper.Replace(string(op.Result)),
		"timestamp=" + op.Time.Format(CEFTimeLayout),
	}
	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		headerEscaper.Replace(cefVendor),
		headerEscaper.Replace(cefProduct),
		headerEscaper.Replace(version),
		headerEscaper.Replace(signature),
		headerEscaper.Replace(op.Name),
		Severity(string(op.Result)),
		strings.Join(ext, " "),
	)
}

func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
