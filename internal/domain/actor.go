package domain

// Role is the capability level of an actor as issued by the surrounding site
type Role string

const (
	RoleMember  Role = "member"
	RoleEditor  Role = "editor"
	RoleSteward Role = "steward" // cultural authority for sacred material
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated caller of an action
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by processors when they open QC tasks
var SystemActor = Actor{ID: "system", Role: RoleEditor}

// IsAuthenticated reports whether the actor carries an identity
func (a Actor) IsAuthenticated() bool {
	return a.ID != ""
}

// CanEditContent reports content-edit capability
func (a Actor) CanEditContent() bool {
	switch a.Role {
	case RoleEditor, RoleSteward, RoleAdmin:
		return a.IsAuthenticated()
	default:
		return false
	}
}

// IsAdmin reports admin-level capability
func (a Actor) IsAdmin() bool {
	return a.IsAuthenticated() && a.Role == RoleAdmin
}

// HasElevatedCapability reports whether the actor may decide tasks of taskType
// without being their assigned reviewer
func (a Actor) HasElevatedCapability(taskType TaskType) bool {
	if a.IsAdmin() {
		return true
	}
	return taskType == TaskTypeSacredSignOff && a.IsAuthenticated() && a.Role == RoleSteward
}
