// Package history is the local tunnel-session audit ledger: every
// TunnelSession state transition is appended as a row in a SQLite
// database under the ASD home. It is read-only from the reconciler's
// perspective and never participates in any §8 invariant — the JSON
// registry remains the sole authoritative live-state store (SPEC_FULL
// §12 item 1). Grounded in the teacher's pkg/db/tunnel.go gorm model,
// generalized from "one row per active public tunnel" to "one
// append-only row per state transition."
package history

import (
	"encoding/json"
	"time"

	uuid "github.com/satori/go.uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Transition is one append-only row: a TunnelSession moving from one
// State to another at a point in time.
type Transition struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	ServiceID string `gorm:"index"`
	FromState string
	ToState   string
	PublicURL string
	// Metadata carries whatever free-form detail the caller attaches to a
	// transition (e.g. the credential reference or dial target in play at
	// the time), grounded in the teacher's pkg/db/tunnel.go JSON columns.
	Metadata datatypes.JSON
	At       time.Time `gorm:"index"`
}

// Ledger owns the SQLite connection and the append/query operations the
// CLI's `asd net tunnel start` reconnect-count reporting needs.
type Ledger struct {
	db *gorm.DB
}

// Open opens (creating if absent) the SQLite database at path and
// migrates the Transition table.
func Open(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Transition{}); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Record appends one state transition. metadata is marshaled into the
// row's Metadata column as-is; a nil map records no metadata.
func (l *Ledger) Record(sessionID, serviceID, from, to, publicURL string, at time.Time, metadata map[string]string) error {
	row := Transition{
		ID:        uuid.NewV4().String(),
		SessionID: sessionID,
		ServiceID: serviceID,
		FromState: from,
		ToState:   to,
		PublicURL: publicURL,
		At:        at,
	}
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		row.Metadata = datatypes.JSON(encoded)
	}
	return l.db.Create(&row).Error
}

// ReconnectsSince counts how many times sessionID transitioned into
// "connecting" at or after `since`, minus one for the first of them —
// the number `asd net tunnel start` reports as "N reconnects in the last
// hour". Whether the session reached "established" in between is not
// checked.
func (l *Ledger) ReconnectsSince(sessionID string, since time.Time) (int, error) {
	var count int64
	err := l.db.Model(&Transition{}).
		Where("session_id = ? AND to_state = ? AND at >= ?", sessionID, "connecting", since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	// The session's first connecting transition is the initial connect,
	// not a reconnect; every subsequent one is.
	if count > 0 {
		count--
	}
	return int(count), nil
}

// Recent returns the most recent transitions for sessionID, newest
// first, bounded by limit.
func (l *Ledger) Recent(sessionID string, limit int) ([]Transition, error) {
	var rows []Transition
	err := l.db.Where("session_id = ?", sessionID).Order("at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
