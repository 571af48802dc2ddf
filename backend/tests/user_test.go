package tests

import (
	"errors"
	"testing"
)

func TestRegisterAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	if err := c.register("ada@mail.com", "ada_password123"); err != nil {
		t.Fatal(err)
	}
	if c.accessToken == "" || c.refreshToken == "" {
		t.Fatal("expected token pair after registration")
	}

	var me map[string]string
	if err := c.Get("/auth/me").Do(&me); err != nil {
		t.Fatal(err)
	}
	if me["email"] != "ada@mail.com" {
		t.Fatalf("unexpected identity: %v", me)
	}

	other := env.newClient()
	if err := other.register("ada@mail.com", "other_password123"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}

	fresh := env.newClient()
	if err := fresh.login("ada@mail.com", "ada_password123"); err != nil {
		t.Fatal(err)
	}
	if err := fresh.login("ada@mail.com", "wrong_password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad password, got %v", err)
	}
	if err := fresh.login("nobody@mail.com", "ada_password123"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	if err := c.register("not-an-email", "ada_password123"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad email, got %v", err)
	}
	if err := c.register("ada@mail.com", "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
}

func TestTokenRefresh(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	if err := c.register("ada@mail.com", "ada_password123"); err != nil {
		t.Fatal(err)
	}

	var res authResult
	err := c.Post("/auth/refresh").Json(map[string]string{"refresh_token": c.refreshToken}).Do(&res)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected fresh token pair")
	}

	// An access token must not be usable as a refresh token.
	err = c.Post("/auth/refresh").Json(map[string]string{"refresh_token": c.accessToken}).Do(nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for access token, got %v", err)
	}
}

func TestRefreshTokenRejectedForApiAccess(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	if err := c.register("ada@mail.com", "ada_password123"); err != nil {
		t.Fatal(err)
	}

	c.accessToken = c.refreshToken

	if err := c.Get("/auth/me").Do(nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized using refresh token for api access, got %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	if err := c.Get("/auth/me").Do(nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without token, got %v", err)
	}
	if err := c.Get("/workspaces/").Do(nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without token, got %v", err)
	}

	c.accessToken = "garbage-token"
	if err := c.Get("/auth/me").Do(nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized with garbage token, got %v", err)
	}
}
