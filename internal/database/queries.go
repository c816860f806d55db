package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrAccountExists is returned when the email address is already registered.
var ErrAccountExists = errors.New("account already exists")

const uniqueViolation = "23505"

const (
	roomColumns = "r.id, r.name, r.book_id, b.title, r.host_id, r.capacity, " +
		"(SELECT COUNT(*) FROM participants p WHERE p.room_id = r.id), " +
		"r.status, r.chapter_id, r.voice_type, r.speed, r.paragraph_id, r.created_at, r.updated_at"
	roomFrom = " FROM rooms r JOIN books b ON b.id = r.book_id"

	addParticipantQuery = "INSERT INTO participants (room_id, account_id, joined_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (room_id, account_id) DO NOTHING"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (Room, error) {
	var room Room
	err := row.Scan(
		&room.Id,
		&room.Name,
		&room.BookId,
		&room.BookTitle,
		&room.HostId,
		&room.Capacity,
		&room.ParticipantCount,
		&room.Status,
		&room.ChapterId,
		&room.VoiceType,
		&room.Speed,
		&room.ParagraphId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	return room, err
}

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, avatar_url, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.AvatarUrl,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return User{}, ErrAccountExists
	}

	return u, err
}

func (db *PgRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, avatar_url, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AvatarUrl,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, avatar_url, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AvatarUrl,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query("SELECT " + roomColumns + roomFrom + " ORDER BY r.created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgRepository) GetRoom(roomId string) (Room, error) {
	row := db.conn.QueryRow("SELECT "+roomColumns+roomFrom+" WHERE r.id = $1 LIMIT 1", roomId)
	return scanRoom(row)
}

// CreateRoom inserts the room and enrolls the host as its first participant.
func (db *PgRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	_, err = tx.Exec(
		"INSERT INTO rooms (id, name, book_id, chapter_id, host_id, capacity, voice_type, speed, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)",
		params.Id,
		params.Name,
		params.BookId,
		params.ChapterId,
		params.HostId,
		params.Capacity,
		params.VoiceType,
		params.Speed,
		now,
	)
	if err != nil {
		return Room{}, err
	}

	_, err = tx.Exec(addParticipantQuery, params.Id, params.HostId, now)
	if err != nil {
		return Room{}, err
	}

	var room Room
	room, err = scanRoom(tx.QueryRow("SELECT "+roomColumns+roomFrom+" WHERE r.id = $1", params.Id))
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgRepository) DeleteRoom(roomId string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM participants WHERE room_id = $1", roomId)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", roomId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) UpdatePlayback(params UpdatePlaybackParams) error {
	res, err := db.conn.Exec(
		"UPDATE rooms SET status = $2, paragraph_id = $3, updated_at = $4 WHERE id = $1",
		params.RoomId,
		params.Status,
		params.ParagraphId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgRepository) ListParticipants(roomId string) ([]Participant, error) {
	rows, err := db.conn.Query(
		"SELECT p.room_id, a.id, a.username, a.avatar_url, p.joined_at FROM participants p "+
			"JOIN accounts a ON a.id = p.account_id WHERE p.room_id = $1 ORDER BY p.joined_at",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.RoomId, &p.AccountId, &p.Username, &p.AvatarUrl, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// AddParticipant is idempotent; re-entering keeps the original join time.
func (db *PgRepository) AddParticipant(roomId string, accountId int) (Participant, error) {
	if _, err := db.conn.Exec(addParticipantQuery, roomId, accountId, time.Now().UTC()); err != nil {
		return Participant{}, err
	}

	row := db.conn.QueryRow(
		"SELECT p.room_id, a.id, a.username, a.avatar_url, p.joined_at FROM participants p "+
			"JOIN accounts a ON a.id = p.account_id WHERE p.room_id = $1 AND p.account_id = $2",
		roomId,
		accountId,
	)

	var p Participant
	err := row.Scan(&p.RoomId, &p.AccountId, &p.Username, &p.AvatarUrl, &p.JoinedAt)
	return p, err
}

func (db *PgRepository) RemoveParticipant(roomId string, accountId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM participants WHERE room_id = $1 AND account_id = $2",
		roomId,
		accountId,
	)

	return err
}

func (db *PgRepository) GetChapter(chapterId string) (Chapter, error) {
	row := db.conn.QueryRow("SELECT id, book_id, title FROM chapters WHERE id = $1", chapterId)

	var ch Chapter
	if err := row.Scan(&ch.Id, &ch.BookId, &ch.Title); err != nil {
		return Chapter{}, err
	}

	rows, err := db.conn.Query(
		"SELECT id, position, speaker, content FROM paragraphs WHERE chapter_id = $1 ORDER BY position",
		chapterId,
	)
	if err != nil {
		return Chapter{}, err
	}
	defer rows.Close()

	ch.Paragraphs = make([]Paragraph, 0)
	for rows.Next() {
		var p Paragraph
		if err := rows.Scan(&p.Id, &p.Position, &p.Speaker, &p.Content); err != nil {
			return Chapter{}, fmt.Errorf("scan paragraph: %w", err)
		}
		ch.Paragraphs = append(ch.Paragraphs, p)
	}

	return ch, rows.Err()
}
