package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"unicode/utf8"

	"github.com/iliyamo/sessionguard/internal/model"
)

// Stored client fields are cut to these many bytes before encryption. The
// hex envelope of an n byte value is 58+2n characters.
const (
	MaxUserAgentLen = 512
	MaxIPAddressLen = 64
)

// FieldCipher encrypts and decrypts single column values.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// SecurityEventRepo appends rows to the `security_events` table. Rows are
// never updated or deleted. When a cipher is configured the client address
// and user agent columns are stored encrypted.
type SecurityEventRepo struct {
	DB     *sql.DB
	Cipher FieldCipher
}

func NewSecurityEventRepo(db *sql.DB, cipher FieldCipher) *SecurityEventRepo {
	return &SecurityEventRepo{DB: db, Cipher: cipher}
}

// Append inserts ev.
func (r *SecurityEventRepo) Append(ctx context.Context, ev model.SecurityEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return persistenceErr("encode event details", err)
	}
	ip, err := r.seal(truncate(ev.IPAddress, MaxIPAddressLen))
	if err != nil {
		return err
	}
	ua, err := r.seal(truncate(ev.UserAgent, MaxUserAgentLen))
	if err != nil {
		return err
	}
	var userID sql.NullInt64
	if ev.UserID != nil {
		userID = sql.NullInt64{Int64: int64(*ev.UserID), Valid: true}
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO security_events (id, occurred_at, user_id, ip_address, user_agent, action, details) VALUES (?,?,?,?,?,?,?)",
		ev.ID, ev.Timestamp.UTC(), userID, ip, ua, string(ev.Action), details)
	if err != nil {
		return persistenceErr("append security event", err)
	}
	return nil
}

// Recent returns the newest events first. A column that fails to decrypt is
// returned empty; the rest of the row is still usable.
func (r *SecurityEventRepo) Recent(ctx context.Context, limit int) ([]model.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, occurred_at, user_id, ip_address, user_agent, action, details FROM security_events ORDER BY occurred_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, persistenceErr("list security events", err)
	}
	defer rows.Close()

	var out []model.SecurityEvent
	for rows.Next() {
		var (
			ev      model.SecurityEvent
			userID  sql.NullInt64
			ip, ua  sql.NullString
			action  string
			details []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &userID, &ip, &ua, &action, &details); err != nil {
			return nil, persistenceErr("scan security event", err)
		}
		if userID.Valid {
			id := uint64(userID.Int64)
			ev.UserID = &id
		}
		ev.Action = model.SecurityAction(action)
		ev.IPAddress = r.open(ip.String)
		ev.UserAgent = r.open(ua.String)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &ev.Details)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list security events", err)
	}
	return out, nil
}

func (r *SecurityEventRepo) seal(v string) (string, error) {
	if r.Cipher == nil || v == "" {
		return v, nil
	}
	env, err := r.Cipher.Encrypt(v)
	if err != nil {
		return "", persistenceErr("encrypt event field", err)
	}
	return env, nil
}

func (r *SecurityEventRepo) open(v string) string {
	if r.Cipher == nil || v == "" {
		return v
	}
	plain, err := r.Cipher.Decrypt(v)
	if err != nil {
		return ""
	}
	return plain
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
