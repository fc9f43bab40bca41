package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of roles the directory hands out. The workflow
// trusts these strings as-is but all capability decisions go through Can,
// never through ad-hoc string comparisons at call sites.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleSuperAdmin   Role = "super_admin"
	RoleResearcher   Role = "researcher"
	RoleResearcher2  Role = "researcher2"
	RolePhotographer Role = "photographer"
)

// Capability names an operation a role may be allowed to perform.
type Capability string

const (
	CapSubmitItems    Capability = "submit_items"
	CapAdvanceStatus  Capability = "advance_status"
	CapManageCredits  Capability = "manage_credits"
	CapManageSettings Capability = "manage_settings"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapSubmitItems:   true,
		CapAdvanceStatus: true,
	},
	RoleSuperAdmin: {
		CapSubmitItems:    true,
		CapAdvanceStatus:  true,
		CapManageCredits:  true,
		CapManageSettings: true,
	},
	RoleResearcher:   {CapAdvanceStatus: true},
	RoleResearcher2:  {CapAdvanceStatus: true},
	RolePhotographer: {CapAdvanceStatus: true},
}

// Can reports whether the role holds the capability. Unknown roles hold none.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// Valid reports whether the role belongs to the closed role set.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// User is the directory record the core consumes. Authentication and session
// mechanics live outside this service; handlers only resolve the calling
// user and trust the role.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      Role
	IsActive  bool
	IsTrial   bool
	CreatedBy string
	CreatedAt time.Time
}
