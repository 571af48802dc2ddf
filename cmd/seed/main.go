package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"formbase/backend/auth"
	"formbase/backend/rls"
	"formbase/backend/schema"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// seed loads a YAML bootstrap file and writes it to the database with
// enforcement bypassed. Intended for demos and local development.

type seedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type seedMember struct {
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

type seedForm struct {
	Name       string                 `yaml:"name"`
	Definition map[string]interface{} `yaml:"definition"`
}

type seedWorkspace struct {
	Name    string       `yaml:"name"`
	Owner   string       `yaml:"owner"`
	Members []seedMember `yaml:"members"`
	Forms   []seedForm   `yaml:"forms"`
}

type seedFile struct {
	Users      []seedUser      `yaml:"users"`
	Workspaces []seedWorkspace `yaml:"workspaces"`
}

func loadSeedFile(path string) seedFile {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("error reading seed file '%v': %v", path, err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		log.Fatalf("error parsing seed file '%v': %v", path, err)
	}
	return seed
}

func postgresDsn(uri string) string {
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func openDb(dbUri, sqlitePath string) *gorm.DB {
	var dialector gorm.Dialector
	if dbUri != "" {
		dialector = postgres.Open(postgresDsn(dbUri))
	} else {
		dialector = sqlite.Open(sqlitePath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	err = db.AutoMigrate(
		&schema.User{}, &schema.Workspace{}, &schema.WorkspaceMember{},
		&schema.Folder{}, &schema.Form{}, &schema.FormVersion{},
		&schema.FormField{}, &schema.FormFieldChoice{},
		&schema.Submission{}, &schema.Answer{},
	)
	if err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	if err := rls.Register(db); err != nil {
		log.Fatalf("error registering enforcement callbacks: %v", err)
	}

	return db
}

func slug(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ' || c == '-' || c == '_':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "workspace"
	}
	return out
}

func getOrCreateUser(txn *gorm.DB, email, password string) (schema.User, error) {
	email = strings.ToLower(email)

	user, err := schema.GetUserByEmail(email, txn)
	if err == nil {
		return user, nil
	}
	if err != schema.ErrUserNotFound {
		return schema.User{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return schema.User{}, fmt.Errorf("hashing password for %v: %w", email, err)
	}

	user = schema.User{
		Id:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if result := txn.Create(&user); result.Error != nil {
		return schema.User{}, result.Error
	}
	log.Printf("created user %v", email)
	return user, nil
}

func seedWorkspaces(txn *gorm.DB, seed seedFile, usersByEmail map[string]schema.User) error {
	for _, ws := range seed.Workspaces {
		owner, ok := usersByEmail[strings.ToLower(ws.Owner)]
		if !ok {
			return fmt.Errorf("workspace %v names unknown owner %v", ws.Name, ws.Owner)
		}

		now := time.Now().UTC()
		workspace := schema.Workspace{
			Id:        uuid.New(),
			Name:      ws.Name,
			Slug:      fmt.Sprintf("%v-%v", slug(ws.Name), uuid.NewString()[:8]),
			CreatedBy: owner.Id,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if result := txn.Create(&workspace); result.Error != nil {
			return result.Error
		}

		members := append([]seedMember{{Email: ws.Owner, Role: schema.RoleOwner}}, ws.Members...)
		for _, m := range members {
			user, ok := usersByEmail[strings.ToLower(m.Email)]
			if !ok {
				return fmt.Errorf("workspace %v names unknown member %v", ws.Name, m.Email)
			}
			if !schema.ValidRole(m.Role) {
				return fmt.Errorf("invalid role %v for member %v", m.Role, m.Email)
			}
			member := schema.WorkspaceMember{
				WorkspaceId: workspace.Id,
				UserId:      user.Id,
				Role:        m.Role,
				CreatedAt:   now,
			}
			if result := txn.Create(&member); result.Error != nil {
				return result.Error
			}
		}

		for _, f := range ws.Forms {
			form := schema.Form{
				Id:          uuid.New(),
				WorkspaceId: workspace.Id,
				Name:        f.Name,
				Status:      schema.FormStatusDraft,
				CreatedBy:   owner.Id,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			definition := f.Definition
			if definition == nil {
				definition = map[string]interface{}{"fields": []interface{}{}}
			}
			draft := schema.FormVersion{
				Id:            uuid.New(),
				FormId:        form.Id,
				VersionNumber: 1,
				State:         schema.VersionStateDraft,
				Definition:    definition,
				CreatedAt:     now,
			}
			form.DraftVersionId = &draft.Id

			if result := txn.Create(&form); result.Error != nil {
				return result.Error
			}
			if result := txn.Create(&draft); result.Error != nil {
				return result.Error
			}
		}

		log.Printf("created workspace %v with %d members and %d forms", ws.Name, len(members), len(ws.Forms))
	}

	return nil
}

func main() {
	seedPath := flag.String("seed", "seed.yaml", "Path to the YAML seed file")
	dbUri := flag.String("db_uri", "", "Postgres database URI. If empty a local sqlite file is used.")
	sqlitePath := flag.String("sqlite", "formbase.db", "Path to the sqlite database file used when --db_uri is not set")
	flag.Parse()

	seed := loadSeedFile(*seedPath)

	db := openDb(*dbUri, *sqlitePath)

	ctx := rls.NewContext(context.Background(), rls.BypassScope())

	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		usersByEmail := make(map[string]schema.User, len(seed.Users))
		for _, u := range seed.Users {
			user, err := getOrCreateUser(txn, u.Email, u.Password)
			if err != nil {
				return err
			}
			usersByEmail[user.Email] = user
		}

		return seedWorkspaces(txn, seed, usersByEmail)
	})
	if err != nil {
		log.Fatalf("seeding failed: %v", err)
	}

	log.Println("seeding completed successfully")
}
