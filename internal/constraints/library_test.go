package constraints

import (
	"testing"

	"github.com/paiban/prodsched/pkg/scheduler/constraint"
)

func TestLibraryCoversKnownTypes(t *testing.T) {
	lib := GetLibrary()
	if len(lib) != len(constraint.KnownTypes) {
		t.Errorf("约束库条目 = %d, want %d", len(lib), len(constraint.KnownTypes))
	}
	for _, typ := range constraint.KnownTypes {
		t.Run(string(typ), func(t *testing.T) {
			d, ok := Find(typ)
			if !ok {
				t.Fatalf("缺少约束 %s", typ)
			}
			if d.Type != "hard" && d.Type != "soft" {
				t.Errorf("类别 = %q", d.Type)
			}
			if len(d.Params) == 0 || d.Description == "" {
				t.Error("定义不完整")
			}
		})
	}
	for i := 1; i < len(lib); i++ {
		if lib[i-1].Name >= lib[i].Name {
			t.Errorf("未按名称排序: %s >= %s", lib[i-1].Name, lib[i].Name)
		}
	}
}

func TestByCategory(t *testing.T) {
	groups := ByCategory()
	if len(groups["时间"]) != 2 || len(groups["产能"]) != 2 {
		t.Errorf("分组 = %v", groups)
	}
	if _, ok := Find("UNKNOWN"); ok {
		t.Error("未知类型不应找到")
	}
}
