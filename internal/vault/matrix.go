// Package vault is the single choke-point for document access: every read,
// write, list, share and delete crosses the engine, which enforces the
// role/resource-class matrix, honors legal holds, and appends an audit entry
// for every decision.
package vault

// Role is the actor's role in the platform.
type Role string

const (
	RoleUser     Role = "user"
	RoleAdvocate Role = "advocate"
	RoleLegal    Role = "legal"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ResourceClass is the actor's relationship to the resource.
type ResourceClass string

const (
	ClassOwn    ResourceClass = "own"
	ClassShared ResourceClass = "shared"
	ClassCase   ResourceClass = "case"
	ClassOrg    ResourceClass = "org"
	ClassSystem ResourceClass = "system"
	// ClassNone means the actor has no relationship to the resource at all.
	// No matrix row grants anything for it.
	ClassNone ResourceClass = "none"
)

// Action is the requested operation. Share requires write on the class;
// list requires read.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
	ActionList   Action = "list"
)

// perm is a permission letter set.
type perm struct {
	read, write, del bool
}

var (
	permNone = perm{}
	permR    = perm{read: true}
	permRW   = perm{read: true, write: true}
	permRWD  = perm{read: true, write: true, del: true}
)

// matrix holds the role x class permission cells. Any change here broadens or
// narrows real access; the tests pin every cell.
var matrix = map[Role]map[ResourceClass]perm{
	RoleUser: {
		ClassOwn:    permRWD,
		ClassShared: permR,
		ClassCase:   permNone,
		ClassOrg:    permNone,
		ClassSystem: permNone,
	},
	RoleAdvocate: {
		ClassOwn:    permRWD,
		ClassShared: permRW,
		ClassCase:   permRW,
		ClassOrg:    permR,
		ClassSystem: permNone,
	},
	RoleLegal: {
		ClassOwn:    permRWD,
		ClassShared: permRW,
		ClassCase:   permRWD,
		ClassOrg:    permRW,
		ClassSystem: permR,
	},
	RoleManager: {
		ClassOwn:    permRWD,
		ClassShared: permRW,
		ClassCase:   permRW,
		ClassOrg:    permRWD,
		ClassSystem: permR,
	},
	RoleAdmin: {
		ClassOwn:    permRWD,
		ClassShared: permRWD,
		ClassCase:   permRWD,
		ClassOrg:    permRWD,
		ClassSystem: permRWD,
	},
}

// Allowed reports whether the matrix cell for role x class contains the
// letter the action requires.
func Allowed(role Role, class ResourceClass, action Action) bool {
	cells, ok := matrix[role]
	if !ok {
		return false
	}
	p := cells[class]
	switch action {
	case ActionRead, ActionList:
		return p.read
	case ActionWrite, ActionShare:
		return p.write
	case ActionDelete:
		return p.del
	default:
		return false
	}
}
