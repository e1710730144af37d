package rbac

type Role string
type Action string

const (
	RoleGeneral Role = "general"
	RoleService Role = "service"
	RoleAdmin   Role = "admin"
)

const (
	ActionModerate   Action = "moderate"
	ActionAssign     Action = "assign"
	ActionAdminister Action = "administer"
)

// Can is the single permission predicate for moderator groups. Scope
// assignment for the system broadcast goes through ActionAdminister.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleGeneral:
		return action == ActionModerate
	case RoleService:
		return action == ActionModerate || action == ActionAssign
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleGeneral, RoleService, RoleAdmin:
		return Role(role)
	default:
		return RoleGeneral
	}
}
