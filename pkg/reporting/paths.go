package reporting

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultOutputDir returns the export directory for symbol and interval
func DefaultOutputDir(symbol, interval string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	i := strings.ToLower(strings.TrimSpace(interval))
	if s == "" {
		s = "UNKNOWN"
	}
	if i == "" {
		i = "unknown"
	}

	return filepath.Join("exports", fmt.Sprintf("%s_%s", s, i))
}

// ChartExportPath returns a timestamped workbook path under DefaultOutputDir
func ChartExportPath(symbol, interval string, at time.Time) string {
	name := fmt.Sprintf("chart_%s.xlsx", at.UTC().Format("20060102_150405"))
	return filepath.Join(DefaultOutputDir(symbol, interval), name)
}
