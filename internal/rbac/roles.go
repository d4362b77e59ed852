package rbac

// Role names double as identity pools. Keep these stable; they are part of
// session-token contracts issued by the account service.
const (
	RoleCaller = "caller"
	RoleCallee = "callee"
)

func IsKnownRole(role string) bool { return role == RoleCaller || role == RoleCallee }
