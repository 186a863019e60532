package access

// Role is a collaborator role on a test or a program. It is granted through
// an email invitation and takes effect once the invitee accepts.
type Role string

const (
	RoleStudent  Role = "student"
	RoleGuest    Role = "guest"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

// Invitation lifecycle. Declined invitations are removed, the constant
// exists for callers that mirror the enum in payloads.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
)

// ParseRole validates a stored role string. Unknown strings yield no role,
// role lookups fail closed.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleStudent, RoleGuest, RoleReviewer, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// CanReview reports whether the role may see answer keys and explanations
// outside a quiz run.
func (r Role) CanReview() bool { return r == RoleReviewer || r == RoleAdmin }

// CanManage reports whether the role may edit the test or program and its
// collaborator list.
func (r Role) CanManage() bool { return r == RoleAdmin }
