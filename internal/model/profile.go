package model

import "github.com/google/uuid"

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Profile is the identity record shared by every role. Its id is the
// identity id.
type Profile struct {
	Base
	Email    string  `json:"email" db:"email"`
	FullName string  `json:"full_name" db:"full_name"`
	Phone    *string `json:"phone,omitempty" db:"phone"`
	Role     Role    `json:"role" db:"role"`
}

// ProfileIndex keeps the first profile seen for each id.
func ProfileIndex(profiles []*Profile) map[uuid.UUID]*Profile {
	idx := make(map[uuid.UUID]*Profile, len(profiles))
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if _, ok := idx[p.ID]; !ok {
			idx[p.ID] = p
		}
	}
	return idx
}
