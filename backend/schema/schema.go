package schema

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

var roleRank = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

func RoleAtLeast(role, required string) bool {
	return roleRank[role] >= roleRank[required]
}

const (
	FormStatusDraft     = "draft"
	FormStatusPublished = "published"
	FormStatusArchived  = "archived"
)

const (
	VersionStateDraft     = "draft"
	VersionStatePublished = "published"
	VersionStateArchived  = "archived"
)

const (
	FieldTypeShortText      = "short_text"
	FieldTypeLongText       = "long_text"
	FieldTypeEmail          = "email"
	FieldTypeNumber         = "number"
	FieldTypeBoolean        = "boolean"
	FieldTypeDate           = "date"
	FieldTypeMultipleChoice = "multiple_choice"
	FieldTypeDropdown       = "dropdown"
	FieldTypeCheckboxes     = "checkboxes"
)

var knownFieldTypes = map[string]bool{
	FieldTypeShortText:      true,
	FieldTypeLongText:       true,
	FieldTypeEmail:          true,
	FieldTypeNumber:         true,
	FieldTypeBoolean:        true,
	FieldTypeDate:           true,
	FieldTypeMultipleChoice: true,
	FieldTypeDropdown:       true,
	FieldTypeCheckboxes:     true,
}

// FieldTypeOrDefault coerces unrecognized type strings to short_text so that
// definitions authored against newer clients still publish.
func FieldTypeOrDefault(fieldType string) string {
	if knownFieldTypes[fieldType] {
		return fieldType
	}
	return FieldTypeShortText
}

func IsChoiceField(fieldType string) bool {
	switch fieldType {
	case FieldTypeMultipleChoice, FieldTypeDropdown, FieldTypeCheckboxes:
		return true
	}
	return false
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Email        string `gorm:"unique;size:254;not null"`
	PasswordHash []byte `gorm:"not null"`

	CreatedAt time.Time
}

type Workspace struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:200;not null"`
	Slug string `gorm:"unique;size:100;not null"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Members []WorkspaceMember `gorm:"constraint:OnDelete:CASCADE"`
	Folders []Folder          `gorm:"constraint:OnDelete:CASCADE"`
	Forms   []Form            `gorm:"constraint:OnDelete:CASCADE"`
}

type WorkspaceMember struct {
	WorkspaceId uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId      uuid.UUID `gorm:"type:uuid;primaryKey"`

	Role string `gorm:"size:20;not null"`

	CreatedAt time.Time

	Workspace *Workspace `gorm:"constraint:OnDelete:CASCADE"`
	User      *User      `gorm:"constraint:OnDelete:CASCADE"`
}

type Folder struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	WorkspaceId uuid.UUID `gorm:"type:uuid;not null;index"`
	Name        string    `gorm:"size:200;not null"`

	ParentId *uuid.UUID `gorm:"type:uuid"`
	Parent   *Folder    `gorm:"foreignKey:ParentId;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Form struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	WorkspaceId uuid.UUID  `gorm:"type:uuid;not null;index"`
	FolderId    *uuid.UUID `gorm:"type:uuid"`
	Folder      *Folder    `gorm:"constraint:OnDelete:SET NULL"`

	Name   string `gorm:"size:200;not null"`
	Status string `gorm:"size:20;not null;default:'draft'"`

	// Convenience pointers into form_versions, maintained by the version
	// engine. Not declared as foreign keys to avoid a circular reference.
	DraftVersionId     *uuid.UUID `gorm:"type:uuid"`
	PublishedVersionId *uuid.UUID `gorm:"type:uuid"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Versions []FormVersion `gorm:"constraint:OnDelete:CASCADE"`
}

type FormVersion struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FormId        uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_form_version_number"`
	VersionNumber int       `gorm:"not null;uniqueIndex:idx_form_version_number"`

	State      string            `gorm:"size:20;not null;default:'draft'"`
	Definition datatypes.JSONMap `gorm:"not null"`

	PublishedAt *time.Time
	CreatedAt   time.Time

	Fields []FormField `gorm:"constraint:OnDelete:CASCADE"`
}

type FormField struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FormVersionId uuid.UUID `gorm:"type:uuid;not null;index"`

	Ref      string `gorm:"size:200;not null"`
	Type     string `gorm:"size:50;not null"`
	Title    string `gorm:"size:500"`
	Required bool   `gorm:"not null;default:false"`

	Config   datatypes.JSONMap
	Position int `gorm:"not null"`

	Choices []FormFieldChoice `gorm:"constraint:OnDelete:CASCADE"`
}

type FormFieldChoice struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FormFieldId uuid.UUID `gorm:"type:uuid;not null;index"`

	ChoiceId string `gorm:"size:200;not null"`
	Label    string `gorm:"size:500"`
	Position int    `gorm:"not null"`
}

type Submission struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FormId uuid.UUID `gorm:"type:uuid;not null;index"`
	Form   *Form     `gorm:"constraint:OnDelete:CASCADE"`

	// Submissions pin the exact published version they were made against.
	// Deleting a version with submissions is refused at the storage layer.
	FormVersionId uuid.UUID    `gorm:"type:uuid;not null;index"`
	FormVersion   *FormVersion `gorm:"constraint:OnDelete:RESTRICT"`

	// Denormalized so the visibility predicate needs no join.
	WorkspaceId uuid.UUID `gorm:"type:uuid;not null;index"`

	SubmittedAt time.Time
	Ip          string `gorm:"size:100"`
	UserAgent   string `gorm:"size:500"`
	Source      string `gorm:"size:200"`

	Answers []Answer `gorm:"constraint:OnDelete:CASCADE"`
}

type Answer struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	SubmissionId uuid.UUID `gorm:"type:uuid;not null;index"`

	FieldRef  string `gorm:"size:200;not null"`
	FieldType string `gorm:"size:50;not null"`

	ValueText   *string
	ValueNumber *float64
	ValueBool   *bool
	ValueTime   *time.Time
	ChoiceIds   datatypes.JSONSlice[string]
	ValueJson   datatypes.JSONMap `gorm:"column:value_jsonb"`
}
