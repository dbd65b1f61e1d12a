package reqctx

import (
	"context"
	"testing"
)

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-1", "session-1")

	if v, ok := UserID(ctx); !ok || v != "user-1" {
		t.Errorf("UserID = %q, %v; want user-1, true", v, ok)
	}
	if v, ok := SessionID(ctx); !ok || v != "session-1" {
		t.Errorf("SessionID = %q, %v; want session-1, true", v, ok)
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserID(ctx); ok {
		t.Error("UserID should be unset")
	}
	if _, ok := SessionID(ctx); ok {
		t.Error("SessionID should be unset")
	}
	if ip := ClientIP(ctx); ip != "unknown" {
		t.Errorf("ClientIP = %q, want unknown", ip)
	}
}

func TestWithClientIP(t *testing.T) {
	ctx := WithClientIP(context.Background(), "10.0.0.7")
	if ip := ClientIP(ctx); ip != "10.0.0.7" {
		t.Errorf("ClientIP = %q", ip)
	}
	if ip := ClientIP(WithClientIP(context.Background(), "")); ip != "unknown" {
		t.Errorf("empty ClientIP = %q, want unknown", ip)
	}
}
