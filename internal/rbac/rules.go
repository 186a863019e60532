package rbac

// Default policy. Handlers still check ownership and per-test collaborator
// roles; these permissions gate whole route classes by account tier.
var RolePermissions = map[string][]string{
	"free": {
		"test:view",
		"test:create",
		"test:edit",
		"test:delete",
		"test:import",
		"test:export",
		"question:edit",
		"tag:edit",
		"material:view",
		"run:*",
		"stats:view",
		"favorite:toggle",
		"invitation:respond",
		"collab:manage",
		"program:view",
	},
	"premium": {
		"test:*",
		"question:*",
		"tag:*",
		"material:*", // includes material:upload
		"run:*",
		"stats:*",
		"favorite:*",
		"invitation:*",
		"collab:*",
		"program:*", // includes program:create
	},
	"admin": {
		"*", // everything, including user:manage and import:trigger
	},
}
