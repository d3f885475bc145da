package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleViewer reads dashboard listings and reports.
	RoleViewer = "viewer"
	// RoleOperator additionally triggers downstream workflows.
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one of the dashboard roles.
func Known(role string) bool {
	switch role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return true
	default:
		return false
	}
}
