package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want int
	}{
		{"校验失败", Validation("plans", "不能为空"), http.StatusBadRequest},
		{"资源不存在", NotFound("机台", "M01"), http.StatusNotFound},
		{"时间范围无效", InvalidTimeRange("开始时间晚于结束时间"), http.StatusBadRequest},
		{"产能不足", New(CodeInsufficientCapacity, "产能不足"), http.StatusUnprocessableEntity},
		{"内部错误", New(CodeInternal, "内部错误"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := NotFound("机台", "M99")
	wrapped := fmt.Errorf("查询产能: %w", base)

	if !Is(wrapped, CodeNotFound) {
		t.Error("包装后的错误应仍可识别为 NOT_FOUND")
	}
	if GetCode(stderrors.New("plain")) != CodeUnknown {
		t.Error("普通错误应返回 UNKNOWN")
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(Validation("variables", "不能为空")) {
		t.Error("VALIDATION_FAILED 应视为校验错误")
	}
	if !IsValidation(InvalidInput("time_limit", "必须为正数")) {
		t.Error("INVALID_INPUT 应视为校验错误")
	}
	if IsValidation(NotFound("机台", "M01")) {
		t.Error("NOT_FOUND 不是校验错误")
	}
}

func TestValidationErrors_ToAppError(t *testing.T) {
	ve := &ValidationErrors{}
	if ve.HasErrors() {
		t.Fatal("空集合不应有错误")
	}
	ve.Add("plans", "不能为空")
	ve.Add("resources", "不能为空")

	appErr := ve.ToAppError()
	if appErr.Code != CodeValidationFail {
		t.Errorf("Code = %s, want %s", appErr.Code, CodeValidationFail)
	}
	if len(appErr.Fields) != 2 {
		t.Errorf("Fields = %d, want 2", len(appErr.Fields))
	}
}
