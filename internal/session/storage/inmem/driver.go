package inmem

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/hostline/console-server/internal/session"
)

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"sessions": {
			Name: "sessions",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:         "id",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.IntFieldIndex{Field: "ID"},
				},
				"userID": {
					Name:         "userID",
					Unique:       false,
					AllowMissing: false,
					Indexer:      &memdb.StringFieldIndex{Field: "UserID"},
				},
				"connectionDate": {
					Name:         "connectionDate",
					Unique:       false,
					AllowMissing: false,
					Indexer:      &memdb.IntFieldIndex{Field: "ConnectionDate"},
				},
			},
		},
	},
}

// Driver represents the in-memory session storage driver built using hashicorp/go-memdb
type Driver struct {
	db     *memdb.MemDB
	maxAge time.Duration
	lastID int64
}

var _ session.Storage = (*Driver)(nil)

// New creates a new empty in-memory session storage driver.
// Sessions older than maxAge are treated as absent; a maxAge <= 0 disables expiry.
func New(maxAge time.Duration) (*Driver, error) {
	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, err
	}
	return &Driver{db: db, maxAge: maxAge}, nil
}

// Create persists a new session and assigns it a fresh unique ID.
// The one-time console password is never persisted; the stored record always carries an empty one.
func (driver *Driver) Create(_ context.Context, ses *session.Session) (*session.Session, error) {
	cpy := *ses
	cpy.ID = atomic.AddInt64(&driver.lastID, 1)
	cpy.Password = ""

	txn := driver.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("sessions", &cpy); err != nil {
		return nil, err
	}
	txn.Commit()

	return &cpy, nil
}

// Get retrieves a session by its ID without consuming it
func (driver *Driver) Get(_ context.Context, id int64) (*session.Session, error) {
	txn := driver.db.Txn(false)
	obj, err := txn.First("sessions", "id", id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}

	ses := obj.(*session.Session)
	if driver.isExpired(ses, time.Now()) {
		return nil, nil
	}
	return ses, nil
}

// GetAndConsume retrieves a session by its ID and deletes it in the same transaction
func (driver *Driver) GetAndConsume(_ context.Context, id int64) (*session.Session, error) {
	txn := driver.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First("sessions", "id", id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	ses := obj.(*session.Session)
	if err := txn.Delete("sessions", ses); err != nil {
		return nil, err
	}
	txn.Commit()

	if driver.isExpired(ses, time.Now()) {
		return nil, nil
	}
	return ses, nil
}

// Clear deletes all sessions
func (driver *Driver) Clear(_ context.Context) error {
	txn := driver.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get("sessions", "id")
	if err != nil {
		return err
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if err := txn.Delete("sessions", obj); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// DeleteExpired deletes all sessions that exceeded their maximum age
func (driver *Driver) DeleteExpired(_ context.Context) (int, error) {
	if driver.maxAge <= 0 {
		return 0, nil
	}

	txn := driver.db.Txn(true)
	defer txn.Abort()

	it, err := txn.LowerBound("sessions", "connectionDate", int64(0))
	if err != nil {
		return 0, err
	}

	now := time.Now()
	deleted := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		ses := obj.(*session.Session)
		if !driver.isExpired(ses, now) {
			break
		}
		if err := txn.Delete("sessions", ses); err != nil {
			return 0, err
		}
		deleted++
	}

	txn.Commit()
	return deleted, nil
}

func (driver *Driver) isExpired(ses *session.Session, now time.Time) bool {
	if driver.maxAge <= 0 {
		return false
	}
	return ses.ConnectionDate <= now.Add(-driver.maxAge).UnixMilli()
}
