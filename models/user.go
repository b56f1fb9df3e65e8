package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is provisioned by the identity service; this service only reads it.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Owns reports whether ownerID refers to the principal itself.
func (p Principal) Owns(ownerID string) bool {
	return p.UserID != "" && p.UserID == ownerID
}

// UserRef is a reference to a user record. Until populated it carries only
// the id and serializes as a bare string.
type UserRef struct {
	ID    string
	Name  string
	Email string
}

func (r UserRef) Populated() bool {
	return r.Name != "" || r.Email != ""
}

func (r UserRef) MarshalJSON() ([]byte, error) {
	if !r.Populated() {
		return json.Marshal(r.ID)
	}
	return json.Marshal(struct {
		ID    string `json:"id"`
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	}{r.ID, r.Name, r.Email})
}

func (r *UserRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = UserRef{ID: id}
		return nil
	}
	var obj struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = UserRef{ID: obj.ID, Name: obj.Name, Email: obj.Email}
	return nil
}
