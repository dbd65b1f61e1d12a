package engine

import (
	"context"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		name     string
		action   Action
		subject  Subject
		resource Resource
		want     bool
	}{
		{"read own profile", ActionRead, Subject{ID: "u1"}, Resource{ID: "u1"}, true},
		{"read other profile", ActionRead, Subject{ID: "u1", Role: "user"}, Resource{ID: "u2"}, false},
		{"admin reads other profile", ActionRead, Subject{ID: "a1", Role: "admin"}, Resource{ID: "u2"}, true},
		{"anonymous read", ActionRead, Subject{}, Resource{ID: ""}, false},
		{"insert own user profile", ActionInsert, Subject{ID: "u1"}, Resource{ID: "u1", Role: "user"}, true},
		{"insert own admin profile", ActionInsert, Subject{ID: "u1"}, Resource{ID: "u1", Role: "admin"}, false},
		{"insert other profile", ActionInsert, Subject{ID: "u1", Role: "user"}, Resource{ID: "u2", Role: "user"}, false},
		{"admin inserts other admin", ActionInsert, Subject{ID: "a1", Role: "admin"}, Resource{ID: "u2", Role: "admin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Allow(ctx, tt.action, tt.subject, tt.resource)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_ExtraPolicy(t *testing.T) {
	ctx := context.Background()
	support := `package mtaji.profiles

allow_read if {
	input.subject.role == "support"
}
`
	e, err := NewOPAEvaluator(ctx, support)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	ok, err := e.Allow(ctx, ActionRead, Subject{ID: "s1", Role: "support"}, Resource{ID: "u9"})
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Error("extra rule should allow support reads")
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package mtaji.profiles\nallow_read if {"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestOPAEvaluator_UnknownAction(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if _, err := e.Allow(ctx, Action("delete"), Subject{ID: "u1"}, Resource{ID: "u1"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
