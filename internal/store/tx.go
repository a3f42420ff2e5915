package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx groups the writes that ingest one message: the message row, its media
// rows and the cursor move become durable together or not at all.
type Tx struct {
	tx   *sql.Tx
	ctx  context.Context
	done bool
}

func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	if d.readOnly {
		return nil, fmt.Errorf("begin: archive opened read-only")
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, ctx: ctx}, nil
}

func (t *Tx) InsertMessage(m Message) error {
	if m.Type == "" {
		m.Type = MessageTypeMessage
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO Message(message_id, chat_id, grouped_id, type, date, text, edited, sender_id, reply_to_message_id, fwd_from, media_id)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		m.ID,
		m.ChatID,
		nullIfZero(m.GroupedID),
		m.Type,
		formatDate(m.Date),
		nullIfEmpty(m.Text),
		nullDate(m.Edited),
		nullIfEmpty(m.SenderID),
		nullIfZero(m.ReplyToID),
		nullIfEmpty(m.FwdFrom),
	)
	return wrapWriteErr(err, fmt.Sprintf("insert message %s/%d", m.ChatID, m.ID))
}

// NextMediaID bumps the chat's media counter and returns the new value. The
// bump is part of this transaction, so a rollback returns the id.
func (t *Tx) NextMediaID(chatID string) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE Chat SET media_counter = media_counter + 1 WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("allocate media id: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return 0, fmt.Errorf("allocate media id: unknown chat %s", chatID)
	}
	var id int64
	if err := t.tx.QueryRowContext(t.ctx, `SELECT media_counter FROM Chat WHERE chat_id = ?`, chatID).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate media id: %w", err)
	}
	return id, nil
}

// InsertMediaChain writes items as one linked list in slice order: each row's
// next_id is the id of the item after it, the last one has none.
func (t *Tx) InsertMediaChain(chatID string, items []MediaItem) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(t.ctx, `INSERT INTO Media(chat_id, media_id, file, next_id) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, it := range items {
		var next interface{}
		if i+1 < len(items) {
			next = items[i+1].ID
		}
		if _, err := stmt.ExecContext(t.ctx, chatID, it.ID, it.File, next); err != nil {
			return wrapWriteErr(err, fmt.Sprintf("insert media %s/%d", chatID, it.ID))
		}
	}
	return nil
}

// SetMessageMedia records the first media id of a message. It can only be set once.
func (t *Tx) SetMessageMedia(chatID string, messageID, mediaID int64) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE Message SET media_id = ? WHERE chat_id = ? AND message_id = ? AND media_id IS NULL`,
		mediaID, chatID, messageID)
	if err != nil {
		return fmt.Errorf("set message media: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("set message media %s/%d: message missing or media already set", chatID, messageID)
	}
	return nil
}

func (t *Tx) SetCursor(chatID string, messageID int64) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE Chat SET cursor = ? WHERE chat_id = ? AND cursor < ?`, messageID, chatID, messageID)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("set cursor %s to %d: %w", chatID, messageID, ErrCursorRegression)
	}
	return nil
}

func (t *Tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

// Rollback is a no-op after Commit, so it can always be deferred.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
