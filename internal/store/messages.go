package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	MessageTypeMessage = "message"
	MessageTypeService = "service"
)

type Message struct {
	ChatID    string
	ID        int64
	GroupedID int64
	Type      string
	Date      time.Time
	Text      string
	Edited    time.Time
	SenderID  string
	ReplyToID int64
	FwdFrom   string
	MediaID   int64
}

type ListMessagesParams struct {
	ChatID string
	Limit  int
	Before *time.Time
	After  *time.Time
}

// ListMessages returns the most recent matching messages in chronological order.
func (d *DB) ListMessages(p ListMessagesParams) ([]Message, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM Message WHERE 1=1`
	var args []interface{}
	if p.ChatID != "" {
		q += ` AND chat_id = ?`
		args = append(args, p.ChatID)
	}
	if p.After != nil {
		q += ` AND date > ?`
		args = append(args, formatDate(*p.After))
	}
	if p.Before != nil {
		q += ` AND date < ?`
		args = append(args, formatDate(*p.Before))
	}
	q += ` ORDER BY date DESC, message_id DESC LIMIT ?`
	args = append(args, p.Limit)

	msgs, err := d.scanMessages(q, args...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (d *DB) GetMessage(chatID string, id int64) (Message, error) {
	msgs, err := d.scanMessages(`SELECT `+messageColumns+` FROM Message WHERE chat_id = ? AND message_id = ?`, chatID, id)
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, sql.ErrNoRows
	}
	return msgs[0], nil
}

func (d *DB) CountMessages(chatID string) (int64, error) {
	q := `SELECT COUNT(*) FROM Message`
	var args []interface{}
	if chatID != "" {
		q += ` WHERE chat_id = ?`
		args = append(args, chatID)
	}
	var n int64
	if err := d.sql.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

const messageColumns = `chat_id, message_id, COALESCE(grouped_id, 0), type, date, COALESCE(text, ''), edited,
	COALESCE(sender_id, ''), COALESCE(reply_to_message_id, 0), COALESCE(fwd_from, ''), COALESCE(media_id, 0)`

func (d *DB) scanMessages(query string, args ...interface{}) ([]Message, error) {
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var date, edited sql.NullString
		if err := rows.Scan(&m.ChatID, &m.ID, &m.GroupedID, &m.Type, &date, &m.Text, &edited,
			&m.SenderID, &m.ReplyToID, &m.FwdFrom, &m.MediaID); err != nil {
			return nil, err
		}
		m.Date = parseDate(date)
		m.Edited = parseDate(edited)
		out = append(out, m)
	}
	return out, rows.Err()
}
