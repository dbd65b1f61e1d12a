package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		name   string
		pinger Pinger
		policy PolicyChecker
		want   healthpb.HealthCheckResponse_ServingStatus
	}{
		{"no dependencies", nil, nil, healthpb.HealthCheckResponse_SERVING},
		{"pinger ok", &mockPinger{}, nil, healthpb.HealthCheckResponse_SERVING},
		{"pinger fails", &mockPinger{pingErr: errors.New("connection refused")}, nil, healthpb.HealthCheckResponse_NOT_SERVING},
		{"policy ok", nil, &mockPolicyChecker{}, healthpb.HealthCheckResponse_SERVING},
		{"policy fails", &mockPinger{}, &mockPolicyChecker{healthErr: errors.New("rego compile failed")}, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(tc.pinger, tc.policy, zerolog.Nop())
			if got := srv.Check(context.Background()); got != tc.want {
				t.Errorf("Check = %v, want %v", got, tc.want)
			}
			if got := srv.Status(); got != tc.want {
				t.Errorf("Status = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheck_PublishesToGRPCHealth(t *testing.T) {
	p := &mockPinger{pingErr: errors.New("down")}
	srv := NewServer(p, nil, zerolog.Nop())
	srv.Check(context.Background())

	resp, err := srv.hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", resp.GetStatus())
	}

	p.pingErr = nil
	srv.Check(context.Background())
	resp, err = srv.hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING after recovery", resp.GetStatus())
	}
}

func TestHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := &mockPinger{}
	srv := NewServer(p, nil, zerolog.Nop())
	r := gin.New()
	r.GET("/health", srv.HTTP)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", w.Code)
	}

	p.pingErr = errors.New("down")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", w.Code)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := NewServer(nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
