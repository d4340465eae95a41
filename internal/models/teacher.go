package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Teacher is a tutor offering bookable time.
type Teacher struct {
	ID        string  `db:"id" json:"id"`
	Email     string  `db:"email" json:"email"`
	FullName  string  `db:"full_name" json:"full_name"`
	Bio       *string `db:"bio" json:"bio,omitempty"`
	Expertise *string `db:"expertise" json:"expertise,omitempty"`
	// Subjects lists the subject codes the teacher offers. Empty means any subject.
	Subjects  pq.StringArray `db:"subject_codes" json:"subjects"`
	Active    bool           `db:"active" json:"active"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// Teaches reports whether the teacher offers the subject code.
func (t *Teacher) Teaches(code string) bool {
	if len(t.Subjects) == 0 {
		return true
	}
	for _, s := range t.Subjects {
		if strings.EqualFold(s, code) {
			return true
		}
	}
	return false
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search    string
	Subject   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
