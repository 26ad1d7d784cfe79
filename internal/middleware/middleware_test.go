package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paiban/prodsched/internal/config"
	"github.com/paiban/prodsched/internal/metrics"
	"github.com/paiban/prodsched/pkg/logger"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logger.RequestIDKey).(string)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"生成新ID", ""},
		{"沿用请求头", "req-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if got == "" || got != seen {
				t.Errorf("响应头 = %q, 上下文 = %q", got, seen)
			}
			if tt.header != "" && got != tt.header {
				t.Errorf("ID = %q, want %q", got, tt.header)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(ok))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("状态码 = %v, want [200 200 429]", codes)
	}

	unlimited := RateLimit(0, 0)(http.HandlerFunc(ok))
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		unlimited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("不限流时第 %d 次状态码 = %d", i, rec.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.CORSConfig
		origin     string
		method     string
		wantOrigin string
		wantCode   int
	}{
		{"关闭", config.CORSConfig{}, "http://a.com", http.MethodGet, "", http.StatusOK},
		{"允许全部", config.CORSConfig{Enabled: true}, "http://a.com", http.MethodGet, "*", http.StatusOK},
		{"白名单命中", config.CORSConfig{Enabled: true, Origins: []string{"http://a.com"}}, "http://a.com", http.MethodGet, "http://a.com", http.StatusOK},
		{"白名单未命中", config.CORSConfig{Enabled: true, Origins: []string{"http://a.com"}}, "http://b.com", http.MethodGet, "", http.StatusOK},
		{"预检", config.CORSConfig{Enabled: true}, "http://a.com", http.MethodOptions, "*", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/pairing", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORS(tt.cfg)(http.HandlerFunc(ok)).ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("状态码 = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	var has bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, has = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !has || time.Until(deadline) > time.Second {
		t.Errorf("deadline = %v, has = %v", deadline, has)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	Timeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, has = r.Context().Deadline()
	})).ServeHTTP(httptest.NewRecorder(), req)
	if has {
		t.Error("超时为 0 时不应设置 deadline")
	}
}

func TestLoggingRecordsMetrics(t *testing.T) {
	counter := metrics.GetRegistry().GetCounter(metrics.HTTPRequests)
	before := counter.Value(http.MethodGet, "/api/v1/timeline/runs/{id}", "404")

	h := Chain(http.NotFoundHandler(), RequestID, Logging)
	for _, id := range []string{"a", "b"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/timeline/runs/"+id, nil))
	}

	if got := counter.Value(http.MethodGet, "/api/v1/timeline/runs/{id}", "404"); got != before+2 {
		t.Errorf("计数 = %v, want %v", got, before+2)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(http.HandlerFunc(ok), mark("a"), mark("b"), mark("c")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Errorf("执行顺序 = %v", order)
	}
}
