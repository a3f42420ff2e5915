package store

import (
	"fmt"
	"strings"
)

type Chat struct {
	ID           string
	Name         string
	Type         string
	Cursor       int64
	MediaCounter int64
}

// AddChat inserts a chat with a zero cursor and media counter. Adding a chat
// that already exists is an ErrDuplicate.
func (d *DB) AddChat(id, name, kind string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("chat id is required")
	}
	_, err := d.sql.Exec(`INSERT INTO Chat(chat_id, name, type, cursor, media_counter) VALUES(?, ?, ?, 0, 0)`, id, name, kind)
	return wrapWriteErr(err, "insert chat "+id)
}

func (d *DB) ChatExists(id string) (bool, error) {
	var n int
	if err := d.sql.QueryRow(`SELECT COUNT(*) FROM Chat WHERE chat_id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) GetChat(id string) (Chat, error) {
	var c Chat
	err := d.sql.QueryRow(`SELECT chat_id, name, type, cursor, media_counter FROM Chat WHERE chat_id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Type, &c.Cursor, &c.MediaCounter)
	return c, err
}

// ListChats returns archived chats ordered by name. An empty query lists all.
func (d *DB) ListChats(query string, limit int) ([]Chat, error) {
	q := `SELECT chat_id, name, type, cursor, media_counter FROM Chat WHERE 1=1`
	var args []interface{}
	if strings.TrimSpace(query) != "" {
		q += ` AND (LOWER(name) LIKE LOWER(?) OR chat_id LIKE ?)`
		args = append(args, "%"+query+"%", "%"+query+"%")
	}
	q += ` ORDER BY name, chat_id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.sql.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Cursor, &c.MediaCounter); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Cursors maps chat id to the last ingested message id.
func (d *DB) Cursors() (map[string]int64, error) {
	return d.chatColumn("cursor")
}

// MediaCounters maps chat id to the last committed media id.
func (d *DB) MediaCounters() (map[string]int64, error) {
	return d.chatColumn("media_counter")
}

func (d *DB) chatColumn(col string) (map[string]int64, error) {
	rows, err := d.sql.Query(`SELECT chat_id, ` + col + ` FROM Chat`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var id string
		var v int64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}
