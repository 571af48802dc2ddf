package tests

import (
	"bytes"
	"context"
	"testing"

	"formbase/backend/rls"
	"formbase/backend/schema"
	"formbase/backend/services"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	backend services.FormsBackend
	api     chi.Router
	db      *gorm.DB
}

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	err = db.AutoMigrate(
		&schema.User{}, &schema.Workspace{}, &schema.WorkspaceMember{},
		&schema.Folder{}, &schema.Form{}, &schema.FormVersion{},
		&schema.FormField{}, &schema.FormFieldChoice{},
		&schema.Submission{}, &schema.Answer{},
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := rls.Register(db); err != nil {
		t.Fatal(err)
	}

	secret := []byte("290zcv02ai249")

	backend := services.NewFormsBackend(db, secret, new(bytes.Buffer))

	return &testEnv{backend: backend, api: backend.Routes(), db: db}
}

// bypassDb returns a session with enforcement bypassed, for direct storage
// assertions in tests.
func (t *testEnv) bypassDb() *gorm.DB {
	return t.db.WithContext(rls.NewContext(context.Background(), rls.BypassScope()))
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) newUser(name string) (client, error) {
	c := t.newClient()
	err := c.register(name+"@mail.com", name+"_password123")
	if err != nil {
		return client{}, err
	}
	return c, nil
}
