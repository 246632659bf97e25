package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Group is one sprint room.
type Group struct {
	ID           int64
	Name         string
	OwnerID      int64
	IsPrivate    bool
	Password     string
	SprintActive bool
	SprintStart  int64 // Unix seconds, 0 when no sprint has run
	SprintTarget int
	CreatedAt    int64
	UpdatedAt    int64
}

const groupColumns = `id, name, owner_id, is_private, password, sprint_active, sprint_start_time, sprint_target_words, created_at, updated_at`

func scanGroup(scan func(dest ...any) error) (Group, error) {
	var (
		g                 Group
		isPrivate, active int
	)
	err := scan(&g.ID, &g.Name, &g.OwnerID, &isPrivate, &g.Password, &active, &g.SprintStart, &g.SprintTarget, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("scan group: %w", err)
	}
	g.IsPrivate = isPrivate != 0
	g.SprintActive = active != 0
	return g, nil
}

// GroupByID returns one room, or ErrNotFound.
func (s *Store) GroupByID(ctx context.Context, id int64) (Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, id)
	return scanGroup(row.Scan)
}

// MembershipOf returns the room the user currently belongs to, if any.
func (s *Store) MembershipOf(ctx context.Context, userID int64) (int64, bool, error) {
	var groupID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = ?`, userID,
	).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query membership: %w", err)
	}
	return groupID, true, nil
}

// MemberIDs returns the user ids of a room's members, ascending.
func (s *Store) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id ASC`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// hintCurrentGroup backfills the current-room hint on an
// *AlreadyInGroupError whose GroupID is still zero. The membership insert
// can lose a race the transaction's snapshot never saw, so the hint comes
// from a fresh read after the transaction returns.
func (s *Store) hintCurrentGroup(ctx context.Context, userID int64, err error) error {
	var inGroup *AlreadyInGroupError
	if !errors.As(err, &inGroup) || inGroup.GroupID != 0 {
		return err
	}
	if gid, ok, qerr := s.MembershipOf(ctx, userID); qerr == nil && ok {
		inGroup.GroupID = gid
	}
	return err
}

// CreateGroup creates a room owned by ownerID and makes the owner its
// first member in one unit of work. A caller with an existing membership
// gets *AlreadyInGroupError carrying the current room.
func (s *Store) CreateGroup(ctx context.Context, ownerID int64, name string, isPrivate bool, password string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, fmt.Errorf("group name is required")
	}

	var created Group
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT group_id FROM group_members WHERE user_id = ?`, ownerID,
		).Scan(&existing)
		if err == nil {
			return &AlreadyInGroupError{GroupID: existing}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check membership: %w", err)
		}

		isPrivateVal := 0
		if isPrivate {
			isPrivateVal = 1
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO groups(name, owner_id, is_private, password) VALUES(?, ?, ?, ?)`,
			name, ownerID, isPrivateVal, password,
		)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		groupID, _ := res.LastInsertId()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members(group_id, user_id) VALUES(?, ?)`, groupID, ownerID,
		); err != nil {
			if isUniqueViolation(err, "group_members.user_id") {
				return &AlreadyInGroupError{GroupID: existing}
			}
			return fmt.Errorf("insert owner membership: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, groupID)
		created, err = scanGroup(row.Scan)
		return err
	})
	return created, s.hintCurrentGroup(ctx, ownerID, err)
}

// JoinGroup adds userID to a room, enforcing the single-room invariant,
// the member cap, the sprint gate, and the room password. Joining a room
// the caller is already in is a no-op success.
func (s *Store) JoinGroup(ctx context.Context, userID, groupID int64, password string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, groupID)
		g, err := scanGroup(row.Scan)
		if err != nil {
			return err
		}

		var existing int64
		err = tx.QueryRowContext(ctx,
			`SELECT group_id FROM group_members WHERE user_id = ?`, userID,
		).Scan(&existing)
		switch {
		case err == nil && existing == groupID:
			return nil // idempotent
		case err == nil:
			return &AlreadyInGroupError{GroupID: existing}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check membership: %w", err)
		}

		if g.SprintActive {
			return ErrSprintActive
		}
		if g.Password != "" && g.Password != password {
			return ErrWrongPassword
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID,
		).Scan(&count); err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if count >= MaxGroupMembers {
			return ErrGroupFull
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members(group_id, user_id) VALUES(?, ?)`, groupID, userID,
		); err != nil {
			if isUniqueViolation(err, "group_members.user_id") {
				return &AlreadyInGroupError{GroupID: existing}
			}
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
	return s.hintCurrentGroup(ctx, userID, err)
}

// LeaveGroup removes userID from the room. When the owner leaves, the room
// is disbanded: the group row is deleted and messages, memberships, and
// sprint scores cascade with it. The returned member list holds the former
// members (owner included) so the caller can push group_disbanded after
// the commit.
func (s *Store) LeaveGroup(ctx context.Context, userID, groupID int64) (disbanded bool, formerMembers []int64, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var ownerID int64
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id FROM groups WHERE id = ?`, groupID,
		).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load group: %w", err)
		}

		var memberOf int64
		err = tx.QueryRowContext(ctx,
			`SELECT group_id FROM group_members WHERE user_id = ?`, userID,
		).Scan(&memberOf)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && memberOf != groupID) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}

		if ownerID == userID {
			rows, err := tx.QueryContext(ctx,
				`SELECT user_id FROM group_members WHERE group_id = ?`, groupID,
			)
			if err != nil {
				return fmt.Errorf("collect members: %w", err)
			}
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return fmt.Errorf("scan member: %w", err)
				}
				formerMembers = append(formerMembers, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, groupID); err != nil {
				return fmt.Errorf("delete group: %w", err)
			}
			disbanded = true
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID,
		); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sprint_scores WHERE group_id = ? AND user_id = ?`, groupID, userID,
		); err != nil {
			return fmt.Errorf("delete sprint score: %w", err)
		}
		// An ownerless check is unnecessary here, but an empty room must not
		// linger if the last non-owner member ever diverges from the owner rule.
		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("count remaining members: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, groupID); err != nil {
				return fmt.Errorf("delete empty group: %w", err)
			}
			disbanded = true
		}
		return nil
	})
	return disbanded, formerMembers, err
}

// LobbyRow is one entry of the room listing.
type LobbyRow struct {
	ID            int64
	Name          string
	OwnerNickname string
	MemberCount   int
	HasPassword   bool
	SprintActive  bool
	IsPrivate     bool
	UpdatedAt     int64
}

// ListLobby returns public rooms plus private rooms owned by a friend of
// userID, most recently active first, capped at LobbyLimit.
func (s *Store) ListLobby(ctx context.Context, userID int64) ([]LobbyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT g.id, g.name, u.nickname,
       (SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id),
       g.password != '', g.sprint_active, g.is_private, g.updated_at
FROM groups g
JOIN users u ON u.id = g.owner_id
WHERE g.is_private = 0
   OR g.owner_id IN (
		SELECT high_id FROM friendships WHERE low_id = ?
		UNION
		SELECT low_id FROM friendships WHERE high_id = ?
   )
ORDER BY g.updated_at DESC, g.id DESC
LIMIT ?`, userID, userID, LobbyLimit)
	if err != nil {
		return nil, fmt.Errorf("query lobby: %w", err)
	}
	defer rows.Close()

	var out []LobbyRow
	for rows.Next() {
		var (
			r                             LobbyRow
			hasPwd, sprintActive, private int
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerNickname, &r.MemberCount, &hasPwd, &sprintActive, &private, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lobby row: %w", err)
		}
		r.HasPassword = hasPwd != 0
		r.SprintActive = sprintActive != 0
		r.IsPrivate = private != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddMessage inserts a chat row with the sender's nickname snapshotted at
// post time and touches the room's updated_at. A nil senderID marks a
// SYSTEM message.
func (s *Store) AddMessage(ctx context.Context, groupID int64, senderID *int64, senderNickname, content string, ts time.Time) (int64, error) {
	var msgID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var senderVal any
		if senderID != nil {
			senderVal = *senderID
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO group_messages(group_id, sender_id, sender_nickname, content, ts) VALUES(?, ?, ?, ?, ?)`,
			groupID, senderVal, senderNickname, content, ts.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		msgID, _ = res.LastInsertId()

		if _, err := tx.ExecContext(ctx,
			`UPDATE groups SET updated_at = ? WHERE id = ?`, ts.Unix(), groupID,
		); err != nil {
			return fmt.Errorf("touch group: %w", err)
		}
		return nil
	})
	return msgID, err
}

// MessageRow is one persisted chat line.
type MessageRow struct {
	ID             int64
	SenderID       *int64
	SenderNickname string
	Content        string
	TS             int64
}

// MessagesSince returns a room's messages at or after since, ascending.
func (s *Store) MessagesSince(ctx context.Context, groupID int64, since time.Time) ([]MessageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, sender_id, sender_nickname, content, ts
FROM group_messages
WHERE group_id = ? AND ts >= ?
ORDER BY ts ASC, id ASC`, groupID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var (
			m      MessageRow
			sender sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &sender, &m.SenderNickname, &m.Content, &m.TS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sender.Valid {
			id := sender.Int64
			m.SenderID = &id
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StartSprint flips a room into sprint mode: existing scores are deleted,
// the group row is updated, and the SYSTEM announcement is inserted, all
// in one transaction so no pre-start delta can leak into the new sprint.
func (s *Store) StartSprint(ctx context.Context, groupID, callerID int64, target int, announcement string, now time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var ownerID int64
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id FROM groups WHERE id = ?`, groupID,
		).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load group: %w", err)
		}
		if ownerID != callerID {
			return ErrForbidden
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sprint_scores WHERE group_id = ?`, groupID,
		); err != nil {
			return fmt.Errorf("clear sprint scores: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE groups
SET sprint_active = 1, sprint_start_time = ?, sprint_target_words = ?, updated_at = ?
WHERE id = ?`, now.Unix(), target, now.Unix(), groupID); err != nil {
			return fmt.Errorf("activate sprint: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_messages(group_id, sender_id, sender_nickname, content, ts) VALUES(?, NULL, 'SYSTEM', ?, ?)`,
			groupID, announcement, now.Unix(),
		); err != nil {
			return fmt.Errorf("insert sprint announcement: %w", err)
		}
		return nil
	})
}

// StopSprint deactivates the sprint but leaves the final scores intact.
func (s *Store) StopSprint(ctx context.Context, groupID, callerID int64, announcement string, now time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var ownerID int64
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id FROM groups WHERE id = ?`, groupID,
		).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load group: %w", err)
		}
		if ownerID != callerID {
			return ErrForbidden
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE groups SET sprint_active = 0, updated_at = ? WHERE id = ?`, now.Unix(), groupID,
		); err != nil {
			return fmt.Errorf("deactivate sprint: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_messages(group_id, sender_id, sender_nickname, content, ts) VALUES(?, NULL, 'SYSTEM', ?, ?)`,
			groupID, announcement, now.Unix(),
		); err != nil {
			return fmt.Errorf("insert sprint announcement: %w", err)
		}
		return nil
	})
}

// SprintScores returns the current score per member for one room.
func (s *Store) SprintScores(ctx context.Context, groupID int64) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, current_score FROM sprint_scores WHERE group_id = ?`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sprint scores: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var (
			userID int64
			score  int
		)
		if err := rows.Scan(&userID, &score); err != nil {
			return nil, fmt.Errorf("scan sprint score: %w", err)
		}
		out[userID] = score
	}
	return out, rows.Err()
}
