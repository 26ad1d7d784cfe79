package database

import (
	"strings"
	"testing"
)

func TestTruncateQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"短语句", "SELECT 1", len("SELECT 1")},
		{"长语句", strings.Repeat("x", 500), 203},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(truncateQuery(tt.query)); got != tt.want {
				t.Errorf("长度 = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSchemaTables(t *testing.T) {
	joined := strings.Join(schema, "\n")
	for _, table := range []string{"timeline_runs", "scheduled_tasks"} {
		if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("缺少表 %s", table)
		}
	}
}
