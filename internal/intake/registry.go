package intake

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Document lifecycle status.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// Integrity verdicts.
const (
	IntegrityVerified = "verified"
	IntegrityTampered = "tampered"
	IntegrityUnknown  = "unknown"
)

// Custody actions recorded in the chain of custody.
const (
	CustodyRegistered      = "registered"
	CustodyRead            = "read"
	CustodyClassified      = "classified"
	CustodyExtracted       = "extracted"
	CustodyDuplicateUpload = "duplicate_upload"
	CustodyMetadataUpdated = "metadata_updated"
	CustodyIntegrityFailed = "integrity_failed"
)

// Version is one entry in a document's append-only version sequence.
type Version struct {
	VersionNo   int       `json:"version_no"`
	ContentHash string    `json:"content_hash"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Reason      string    `json:"reason"`
}

// CustodyRecord is one entry in the chain of custody.
type CustodyRecord struct {
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// RegisteredDocument is the registry's view of one document. Fields are
// mutated only under the registry lock; callers receive copies.
type RegisteredDocument struct {
	DocID          string          `json:"doc_id"`
	UserID         string          `json:"user_id"`
	ContentHash    string          `json:"content_hash"`
	MetadataHash   string          `json:"metadata_hash"`
	Size           int64           `json:"size"`
	Mime           string          `json:"mime"`
	Filename       string          `json:"filename"`
	DocType        string          `json:"doc_type"`
	CurrentVersion int             `json:"current_version"`
	Versions       []Version       `json:"versions"`
	CustodyLog     []CustodyRecord `json:"custody_log"`
	Status         string          `json:"status"`
	Integrity      string          `json:"integrity"`
	RegisteredAt   time.Time       `json:"registered_at"`
}

func (d *RegisteredDocument) clone() *RegisteredDocument {
	out := *d
	out.Versions = append([]Version(nil), d.Versions...)
	out.CustodyLog = append([]CustodyRecord(nil), d.CustodyLog...)
	return &out
}

// Registry tracks registered documents and their provenance in memory. A
// registry-wide RWMutex guards metadata; the custody log is append-only under
// the write lock.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*RegisteredDocument
	byHash map[string]string // user_id + "\x00" + content_hash -> doc_id
	seq    map[int]int       // year -> last sequence number
	org    string
	now    func() time.Time
}

// NewRegistry creates an empty registry. org becomes the doc_id prefix;
// empty defaults to "TG".
func NewRegistry(org string) *Registry {
	if org == "" {
		org = "TG"
	}
	return &Registry{
		byID:   make(map[string]*RegisteredDocument),
		byHash: make(map[string]string),
		seq:    make(map[int]int),
		org:    org,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ContentHash is the canonical SHA-256 over raw bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// metadataHash binds filename, size, mime and owner into a short fingerprint.
func metadataHash(filename string, size int64, mime, userID string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(filename))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
	h.Write([]byte(mime))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// nextDocID builds ORG-YYYY-NNNNNN-XXXX: a per-year monotonic sequence plus
// four random base32 chars. Caller holds the write lock.
func (r *Registry) nextDocID(at time.Time) string {
	year := at.Year()
	r.seq[year]++
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	suffix := base32NoPad.EncodeToString(buf[:])[:4]
	return fmt.Sprintf("%s-%04d-%06d-%s", r.org, year, r.seq[year], suffix)
}

func hashKey(userID, contentHash string) string {
	return userID + "\x00" + contentHash
}

// Register records new bytes for a user. Identical (user_id, content_hash)
// returns the existing document with a duplicate_upload custody entry and
// reports duplicate=true.
func (r *Registry) Register(userID string, data []byte, filename, mime string) (doc *RegisteredDocument, duplicate bool) {
	hash := ContentHash(data)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byHash[hashKey(userID, hash)]; ok {
		existing := r.byID[id]
		existing.CustodyLog = append(existing.CustodyLog, CustodyRecord{
			Action:    CustodyDuplicateUpload,
			ActorID:   userID,
			Timestamp: now,
			Details:   "filename=" + filename,
		})
		return existing.clone(), true
	}

	d := &RegisteredDocument{
		DocID:          r.nextDocID(now),
		UserID:         userID,
		ContentHash:    hash,
		MetadataHash:   metadataHash(filename, int64(len(data)), mime, userID),
		Size:           int64(len(data)),
		Mime:           mime,
		Filename:       filename,
		DocType:        "unknown",
		CurrentVersion: 1,
		Versions: []Version{{
			VersionNo:   1,
			ContentHash: hash,
			UploadedAt:  now,
			Reason:      "initial upload",
		}},
		CustodyLog: []CustodyRecord{{
			Action:    CustodyRegistered,
			ActorID:   userID,
			Timestamp: now,
			Details:   "filename=" + filename,
		}},
		Status:       StatusActive,
		Integrity:    IntegrityVerified,
		RegisteredAt: now,
	}
	r.byID[d.DocID] = d
	r.byHash[hashKey(userID, hash)] = d.DocID
	return d.clone(), false
}

// Get returns a copy of the document, or nil.
func (r *Registry) Get(docID string) *RegisteredDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byID[docID]; ok {
		return d.clone()
	}
	return nil
}

// ForUser returns copies of a user's documents in registration order.
func (r *Registry) ForUser(userID string) []*RegisteredDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*RegisteredDocument
	for _, d := range r.byID {
		if d.UserID == userID {
			out = append(out, d.clone())
		}
	}
	return out
}

// VerifyRead recomputes the content hash on a read. A mismatch marks the
// document tampered and records an integrity_failed custody entry; the read
// itself still succeeds. Returns the updated copy and whether it is intact.
func (r *Registry) VerifyRead(docID, actorID string, data []byte) (*RegisteredDocument, bool) {
	hash := ContentHash(data)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[docID]
	if !ok {
		return nil, false
	}

	intact := hash == d.ContentHash
	if intact {
		d.Integrity = IntegrityVerified
		d.CustodyLog = append(d.CustodyLog, CustodyRecord{
			Action: CustodyRead, ActorID: actorID, Timestamp: now,
		})
	} else {
		d.Integrity = IntegrityTampered
		d.CustodyLog = append(d.CustodyLog, CustodyRecord{
			Action: CustodyIntegrityFailed, ActorID: actorID, Timestamp: now,
			Details: "stored=" + d.ContentHash[:12] + " observed=" + hash[:12],
		})
	}
	return d.clone(), intact
}

// AppendCustody adds an arbitrary custody entry.
func (r *Registry) AppendCustody(docID string, rec CustodyRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[docID]; ok {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = r.now()
		}
		d.CustodyLog = append(d.CustodyLog, rec)
	}
}

// SetDocType records the classified type with a custody entry.
func (r *Registry) SetDocType(docID, docType, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[docID]; ok {
		d.DocType = docType
		d.CustodyLog = append(d.CustodyLog, CustodyRecord{
			Action: CustodyClassified, ActorID: "system", Timestamp: r.now(), Details: details,
		})
	}
}

// SetStatus moves the document through its lifecycle, recording the change.
func (r *Registry) SetStatus(docID, status, actorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[docID]; ok && d.Status != status {
		d.CustodyLog = append(d.CustodyLog, CustodyRecord{
			Action: CustodyMetadataUpdated, ActorID: actorID, Timestamp: r.now(),
			Details: "status " + d.Status + " -> " + status,
		})
		d.Status = status
	}
}
