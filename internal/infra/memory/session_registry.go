package memory

import (
	"sync"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/app"
)

// SessionRegistry is the in-memory implementation of app.SessionRegistry. It
// indexes live sessions by ID and by (user, package) so the start path can
// enforce one non-terminal session per pair without a store round trip.
type SessionRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*app.ExamSession
	byOwner map[string]string // userID|packageID -> sessionID
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byID:    make(map[string]*app.ExamSession),
		byOwner: make(map[string]string),
	}
}

func (r *SessionRegistry) Put(session *app.ExamSession) {
	rec := session.Record()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = session
	r.byOwner[ownerKey(rec.UserID, rec.PackageID)] = rec.ID
}

func (r *SessionRegistry) Get(sessionID string) (*app.ExamSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.byID[sessionID]
	return session, ok
}

func (r *SessionRegistry) GetActive(userID, packageID string) (*app.ExamSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOwner[ownerKey(userID, packageID)]
	if !ok {
		return nil, false
	}
	session, ok := r.byID[id]
	return session, ok
}

func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byID[sessionID]
	if !ok {
		return
	}
	rec := session.Record()
	delete(r.byID, sessionID)
	delete(r.byOwner, ownerKey(rec.UserID, rec.PackageID))
}

func ownerKey(userID, packageID string) string {
	return userID + "|" + packageID
}
