// ABOUTME: Unit tests for principal context helpers
// ABOUTME: Tests attach, retrieve and the absent case

package auth

import (
	"context"
	"testing"
)

func TestWithPrincipal_RoundTrip(t *testing.T) {
	ctx := WithPrincipal(context.Background(), &Principal{Subject: "ops-laptop"})

	p := FromContext(ctx)
	if p == nil {
		t.Fatal("FromContext() = nil")
	}
	if p.Subject != "ops-laptop" {
		t.Errorf("Subject = %q, want ops-laptop", p.Subject)
	}
	if got := SubjectFromContext(ctx); got != "ops-laptop" {
		t.Errorf("SubjectFromContext() = %q", got)
	}
}

func TestFromContext_Absent(t *testing.T) {
	if p := FromContext(context.Background()); p != nil {
		t.Errorf("FromContext() = %+v, want nil", p)
	}
	if got := SubjectFromContext(context.Background()); got != "" {
		t.Errorf("SubjectFromContext() = %q, want empty", got)
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), principalKey{}, "not-a-principal")
	if p := FromContext(ctx); p != nil {
		t.Errorf("FromContext() = %+v, want nil", p)
	}
}
