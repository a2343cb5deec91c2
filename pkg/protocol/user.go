package protocol

// Role scopes what a console user can see and do.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleSuperAdmin Role = "super_admin"
)

// UserDetails identifies the user attached to a ticket or session.
type UserDetails struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role,omitempty"`
}
