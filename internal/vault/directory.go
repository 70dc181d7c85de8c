package vault

import (
	"strings"
	"sync"
)

// Actor is the identity making a vault request.
type Actor struct {
	ID        string
	Role      Role
	OrgID     string
	CaseIDs   []string
	IP        string
	UserAgent string
}

// Directory resolves an actor's relationship to a resource. Resources are
// provider paths of the form /users/<id>/... , /cases/<id>/... ,
// /org/<org>/... or /system/... ; shares are explicit grants layered on top.
type Directory struct {
	mu     sync.RWMutex
	shares map[string]map[string]bool // resource -> actor ids
}

func NewDirectory() *Directory {
	return &Directory{shares: make(map[string]map[string]bool)}
}

// GrantShare records that actorID may access resource as class shared.
func (d *Directory) GrantShare(resource, actorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.shares[resource]
	if !ok {
		set = make(map[string]bool)
		d.shares[resource] = set
	}
	set[actorID] = true
}

// RevokeShare removes a share grant. Missing grants are a no-op.
func (d *Directory) RevokeShare(resource, actorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.shares[resource]; ok {
		delete(set, actorID)
	}
}

func (d *Directory) shared(resource, actorID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	// A grant on any parent folder covers the files under it.
	for path := resource; path != "" && path != "/"; path = parentPath(path) {
		if d.shares[path][actorID] {
			return true
		}
	}
	return false
}

// ClassFor resolves the most specific class the actor holds on the resource.
// Precedence: own > shared > case > org > system > none.
func (d *Directory) ClassFor(actor Actor, resource string) ResourceClass {
	parts := splitPath(resource)

	if len(parts) >= 2 && parts[0] == "users" && parts[1] == actor.ID {
		return ClassOwn
	}
	if d.shared(resource, actor.ID) {
		return ClassShared
	}
	if len(parts) >= 2 && parts[0] == "cases" {
		for _, id := range actor.CaseIDs {
			if id == parts[1] {
				return ClassCase
			}
		}
	}
	if len(parts) >= 2 && parts[0] == "org" && actor.OrgID != "" && parts[1] == actor.OrgID {
		return ClassOrg
	}
	if len(parts) >= 1 && parts[0] == "system" {
		return ClassSystem
	}
	return ClassNone
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func parentPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return ""
	}
	return p[:i]
}
