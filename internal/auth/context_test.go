// ABOUTME: Tests for AuthContext propagation via context.Context.
// ABOUTME: Covers WithAuth/FromContext/MustFromContext and scope checks.

package auth

import (
	"context"
	"testing"
)

func TestWithAuthFromContext(t *testing.T) {
	authCtx := &AuthContext{
		TenantID: "acme-corp",
		UserID:   "user-1",
		Scopes:   []string{"read", "search"},
	}

	ctx := WithAuth(context.Background(), authCtx)
	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected AuthContext, got nil")
	}
	if got.TenantID != "acme-corp" || got.UserID != "user-1" {
		t.Errorf("unexpected identity: %+v", got)
	}
}

func TestFromContextMissing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestMustFromContextPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing AuthContext")
		}
	}()
	MustFromContext(context.Background())
}

func TestHasScope(t *testing.T) {
	authCtx := &AuthContext{Scopes: []string{"read", "search"}}

	if !authCtx.HasScope("search") {
		t.Error("expected search scope")
	}
	if authCtx.HasScope("admin") {
		t.Error("did not expect admin scope")
	}
}
