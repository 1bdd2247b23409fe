package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// ColumnDef is one column of a result header.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Version is one observed shape of a source's results.
type Version struct {
	Subject   string      `json:"subject"`
	Version   int         `json:"version"`
	Columns   []ColumnDef `json:"columns"`
	Hash      string      `json:"hash"`
	CreatedAt time.Time   `json:"created_at"`
}

// ComputeHash fingerprints an ordered column list.
func ComputeHash(columns []ColumnDef) string {
	h := sha256.New()
	for _, c := range columns {
		h.Write([]byte(strings.ToUpper(c.Name)))
		h.Write([]byte{0})
		h.Write([]byte(strings.ToUpper(c.Type)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ColumnDefs pairs header names with their types.
func ColumnDefs(names, types []string) []ColumnDef {
	out := make([]ColumnDef, len(names))
	for i, n := range names {
		out[i].Name = n
		if i < len(types) {
			out[i].Type = types[i]
		}
	}
	return out
}

// Registry keeps the result headers seen per subject, versioned in order of
// appearance. A header identical to the latest version is not a new version.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]*Version // keyed by subject, ordered by version
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string][]*Version)}
}

// Register records columns for subject. It returns the matching version and
// whether it was newly created.
func (r *Registry) Register(subject string, columns []ColumnDef) (*Version, bool) {
	hash := ComputeHash(columns)

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.versions[subject]
	if len(versions) > 0 {
		latest := versions[len(versions)-1]
		if latest.Hash == hash {
			return latest, false
		}
	}

	v := &Version{
		Subject:   subject,
		Version:   len(versions) + 1,
		Columns:   append([]ColumnDef(nil), columns...),
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
	}
	r.versions[subject] = append(versions, v)
	return v, true
}

// Latest returns the newest version of subject.
func (r *Registry) Latest(subject string) (*Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[subject]
	if len(versions) == 0 {
		return nil, false
	}
	return versions[len(versions)-1], true
}

// List returns every version of subject, oldest first.
func (r *Registry) List(subject string) []*Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[subject]
	out := make([]*Version, len(versions))
	copy(out, versions)
	return out
}
