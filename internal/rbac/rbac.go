package rbac

type Role string
type Action string

const (
	RoleUser    Role = "USER"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

const (
	ActionRead    Action = "read"
	ActionConfirm Action = "confirm"
	ActionUpload  Action = "upload"
	ActionApprove Action = "approve"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionRead || action == ActionConfirm || action == ActionUpload ||
			action == ActionApprove || action == ActionPublish
	case RoleUser:
		return action == ActionRead || action == ActionConfirm || action == ActionUpload
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
