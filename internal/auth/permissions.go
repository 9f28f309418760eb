package auth

// Resources and actions of the seeded permission catalog.
const (
	ResourceUsers = "users"
	ResourceRoles = "roles"

	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)
