package vault

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/metrics"
	"github.com/tenantguard/backend/internal/storage"
)

// ErrDenied is the uniform denial error. It carries no resource detail so a
// caller cannot distinguish "forbidden" from "does not exist".
var ErrDenied = errors.New("vault: access denied")

// Engine is the access choke-point. Every operation resolves the actor's
// resource class, consults the matrix, checks legal holds, appends an audit
// entry, and only then touches the storage provider.
type Engine struct {
	provider  storage.Provider
	directory *Directory
	audit     *AuditLog
	bus       *events.Bus
	locks     *lockTable

	holdMu sync.RWMutex
	holds  map[string]string // resource -> hold reason
}

// NewEngine wires the engine. bus may be nil in tests that only exercise
// decisions.
func NewEngine(provider storage.Provider, dir *Directory, audit *AuditLog, bus *events.Bus) *Engine {
	return &Engine{
		provider:  provider,
		directory: dir,
		audit:     audit,
		bus:       bus,
		locks:     newLockTable(),
		holds:     make(map[string]string),
	}
}

// PlaceHold marks a resource as under legal hold; deletes are refused until
// the hold is released.
func (e *Engine) PlaceHold(resource, reason string) {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()
	e.holds[resource] = reason
	slog.Info("legal hold placed", "resource", resource, "reason", reason)
}

// ReleaseHold removes a legal hold. Releasing a missing hold is a no-op.
func (e *Engine) ReleaseHold(resource string) {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()
	delete(e.holds, resource)
}

func (e *Engine) held(resource string) bool {
	e.holdMu.RLock()
	defer e.holdMu.RUnlock()
	_, ok := e.holds[resource]
	return ok
}

// Decision is the outcome of an access check, returned to callers that need
// the resolved class alongside the verdict.
type Decision struct {
	Allowed bool
	Class   ResourceClass
	Reason  string
}

// Decide resolves the class, applies the matrix and legal holds, records the
// audit entry and the decision metric. It never touches the provider.
func (e *Engine) Decide(actor Actor, action Action, resource string) Decision {
	class := e.directory.ClassFor(actor, resource)

	d := Decision{Allowed: true, Class: class}
	if !Allowed(actor.Role, class, action) {
		d = Decision{Allowed: false, Class: class, Reason: ReasonMatrix}
	} else if action == ActionDelete && e.held(resource) {
		d = Decision{Allowed: false, Class: class, Reason: ReasonLegalHold}
	}

	outcome := DecisionAllowed
	if !d.Allowed {
		outcome = DecisionDenied
	}
	metrics.VaultDecisions.WithLabelValues(outcome).Inc()
	e.audit.Append(AuditEntry{
		ActorID:       actor.ID,
		Action:        string(action),
		ResourceID:    resource,
		ResourceClass: string(class),
		Decision:      outcome,
		Reason:        d.Reason,
		IP:            actor.IP,
		UserAgent:     actor.UserAgent,
	})
	if !d.Allowed && e.bus != nil {
		e.bus.Emit(events.EventAccessAudit, actor.ID, "vault", events.AccessPayload{
			ActorID:       actor.ID,
			Action:        string(action),
			ResourceID:    resource,
			ResourceClass: string(class),
			Decision:      outcome,
			Reason:        d.Reason,
		})
	}
	return d
}

// Read downloads the resource after an access check.
func (e *Engine) Read(ctx context.Context, actor Actor, resource string) ([]byte, error) {
	if d := e.Decide(actor, ActionRead, resource); !d.Allowed {
		return nil, ErrDenied
	}
	unlock := e.locks.RLock(resource)
	defer unlock()
	return e.provider.DownloadFile(ctx, resource)
}

// Write stores data at the resource path. A fresh resource emits
// document_added; an overwrite emits document_processed.
func (e *Engine) Write(ctx context.Context, actor Actor, resource, filename, mime string, data []byte) (*storage.File, error) {
	if d := e.Decide(actor, ActionWrite, resource); !d.Allowed {
		return nil, ErrDenied
	}
	unlock := e.locks.Lock(resource)
	defer unlock()

	full := resource + "/" + filename
	existed, err := e.provider.FileExists(ctx, full)
	if err != nil {
		existed = false
	}
	f, err := e.provider.UploadFile(ctx, data, resource, filename, mime)
	if err != nil {
		return nil, err
	}
	if e.bus != nil {
		t := events.EventDocumentAdded
		if existed {
			t = events.EventDocumentProcessed
		}
		e.bus.Emit(t, actor.ID, "vault", events.DocumentPayload{
			Filename: filename,
			Size:     f.Size,
			Mime:     f.Mime,
		})
	}
	return f, nil
}

// Delete removes the resource. Legal holds deny with reason legal_hold; an
// allowed delete is itself mirrored as an access_audit event.
func (e *Engine) Delete(ctx context.Context, actor Actor, resource string) (bool, error) {
	d := e.Decide(actor, ActionDelete, resource)
	if !d.Allowed {
		return false, ErrDenied
	}
	unlock := e.locks.Lock(resource)
	defer unlock()

	ok, err := e.provider.DeleteFile(ctx, resource)
	if err != nil {
		return false, err
	}
	if e.bus != nil {
		e.bus.Emit(events.EventAccessAudit, actor.ID, "vault", events.AccessPayload{
			ActorID:       actor.ID,
			Action:        string(ActionDelete),
			ResourceID:    resource,
			ResourceClass: string(d.Class),
			Decision:      DecisionAllowed,
		})
	}
	return ok, nil
}

// List enumerates a folder after an access check.
func (e *Engine) List(ctx context.Context, actor Actor, folder string, recursive bool) ([]*storage.File, error) {
	if d := e.Decide(actor, ActionList, folder); !d.Allowed {
		return nil, ErrDenied
	}
	return e.provider.ListFiles(ctx, folder, recursive)
}

// Share grants granteeID shared access to the resource. Sharing requires
// write on the resource's class.
func (e *Engine) Share(ctx context.Context, actor Actor, resource, granteeID string) error {
	if d := e.Decide(actor, ActionShare, resource); !d.Allowed {
		return ErrDenied
	}
	e.directory.GrantShare(resource, granteeID)
	slog.Info("resource shared", "resource", resource, "actor", actor.ID, "grantee", granteeID)
	return nil
}
