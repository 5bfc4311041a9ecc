package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xlab2016/space-terminal-public/internal/models"
)

// Store persists the client roster so known identities and their public
// keys survive a relay restart. Traffic is never persisted.
type Store struct {
	db *sql.DB
}

// New opens or creates the roster database.
func New(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_fk=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			public_key TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			last_seen DATETIME,
			is_online INTEGER NOT NULL DEFAULT 0,
			session_id TEXT NOT NULL DEFAULT ''
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertClient inserts or fully replaces the roster record for the
// client's id.
func (s *Store) UpsertClient(c *models.Client) error {
	_, err := s.db.Exec(`
		INSERT INTO clients (id, name, public_key, type, last_seen, is_online, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			public_key = excluded.public_key,
			type = excluded.type,
			last_seen = excluded.last_seen,
			is_online = excluded.is_online,
			session_id = excluded.session_id`,
		c.ID, c.Name, c.PublicKey, string(c.Type), c.LastSeen, c.IsOnline, c.SessionID)
	return err
}

// SetOnline updates the online flag and last-seen time for a client.
func (s *Store) SetOnline(id string, online bool, lastSeen time.Time) error {
	_, err := s.db.Exec(`UPDATE clients SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, lastSeen, id)
	return err
}

// SetSession updates the session token bound to a client. An empty
// token marks the client as having no live connection.
func (s *Store) SetSession(id, sessionID string) error {
	_, err := s.db.Exec(`UPDATE clients SET session_id = ? WHERE id = ?`, sessionID, id)
	return err
}

// LoadClients returns every persisted roster record.
func (s *Store) LoadClients() ([]models.Client, error) {
	rows, err := s.db.Query(`SELECT id, name, public_key, type, last_seen, is_online, session_id FROM clients`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		var c models.Client
		var clientType string
		var lastSeen sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.PublicKey, &clientType, &lastSeen, &c.IsOnline, &c.SessionID); err != nil {
			return nil, err
		}
		c.Type = models.ClientType(clientType)
		if lastSeen.Valid {
			c.LastSeen = lastSeen.Time
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
