package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// canonicalPair orders an undirected relation so A↔B has exactly one
// representation. Never trust callers to pre-order.
func canonicalPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// FriendRequest is one pending directed request.
type FriendRequest struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
}

// CreateFriendRequest inserts a pending request from sender to receiver.
// It fails with ErrAlreadyFriends when the canonical pair exists and with
// ErrRequestExists when a request is pending in either direction.
func (s *Store) CreateFriendRequest(ctx context.Context, senderID, receiverID int64) (int64, error) {
	var requestID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		low, high := canonicalPair(senderID, receiverID)
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM friendships WHERE low_id = ? AND high_id = ?`, low, high,
		).Scan(&n); err != nil {
			return fmt.Errorf("check friendship: %w", err)
		}
		if n > 0 {
			return ErrAlreadyFriends
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM friend_requests
			 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
			senderID, receiverID, receiverID, senderID,
		).Scan(&n); err != nil {
			return fmt.Errorf("check pending requests: %w", err)
		}
		if n > 0 {
			return ErrRequestExists
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO friend_requests(sender_id, receiver_id) VALUES(?, ?)`,
			senderID, receiverID,
		)
		if isUniqueViolation(err, "friend_requests") {
			return ErrRequestExists
		}
		if err != nil {
			return fmt.Errorf("insert friend request: %w", err)
		}
		requestID, _ = res.LastInsertId()
		return nil
	})
	return requestID, err
}

// IncomingRequestRow is one pending request annotated with sender profile.
type IncomingRequestRow struct {
	RequestID int64
	SenderID  int64
	Username  string
	Nickname  string
}

// IncomingRequests lists requests addressed to receiverID, oldest first.
func (s *Store) IncomingRequests(ctx context.Context, receiverID int64) ([]IncomingRequestRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.sender_id, u.username, u.nickname
FROM friend_requests r
JOIN users u ON u.id = r.sender_id
WHERE r.receiver_id = ?
ORDER BY r.id ASC`, receiverID)
	if err != nil {
		return nil, fmt.Errorf("query incoming requests: %w", err)
	}
	defer rows.Close()

	var out []IncomingRequestRow
	for rows.Next() {
		var r IncomingRequestRow
		if err := rows.Scan(&r.RequestID, &r.SenderID, &r.Username, &r.Nickname); err != nil {
			return nil, fmt.Errorf("scan incoming request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AcceptFriendRequest validates that receiverID is the addressee, inserts
// the canonical friendship, and deletes the request — all in one unit of
// work. Returns the sender so the caller can push refreshes to both sides.
func (s *Store) AcceptFriendRequest(ctx context.Context, requestID, receiverID int64) (int64, error) {
	var senderID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var req FriendRequest
		err := tx.QueryRowContext(ctx,
			`SELECT id, sender_id, receiver_id FROM friend_requests WHERE id = ?`, requestID,
		).Scan(&req.ID, &req.SenderID, &req.ReceiverID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load friend request: %w", err)
		}
		if req.ReceiverID != receiverID {
			return ErrForbidden
		}

		low, high := canonicalPair(req.SenderID, req.ReceiverID)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO friendships(low_id, high_id) VALUES(?, ?)`, low, high,
		); err != nil && !isUniqueViolation(err, "friendships") {
			return fmt.Errorf("insert friendship: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM friend_requests WHERE id = ?`, requestID,
		); err != nil {
			return fmt.Errorf("delete friend request: %w", err)
		}
		senderID = req.SenderID
		return nil
	})
	return senderID, err
}

// RejectFriendRequest deletes a request addressed to receiverID.
func (s *Store) RejectFriendRequest(ctx context.Context, requestID, receiverID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var storedReceiver int64
		err := tx.QueryRowContext(ctx,
			`SELECT receiver_id FROM friend_requests WHERE id = ?`, requestID,
		).Scan(&storedReceiver)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load friend request: %w", err)
		}
		if storedReceiver != receiverID {
			return ErrForbidden
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM friend_requests WHERE id = ?`, requestID)
		if err != nil {
			return fmt.Errorf("delete friend request: %w", err)
		}
		return nil
	})
}

// Friends returns the caller's friends. The canonical row is read from
// either direction transparently.
func (s *Store) Friends(ctx context.Context, userID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE id IN (
	SELECT high_id FROM friendships WHERE low_id = ?
	UNION
	SELECT low_id FROM friendships WHERE high_id = ?
)
ORDER BY id ASC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u         User
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Nickname, &u.Email, &u.AvatarFile, &u.Signature, &createdAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// FriendIDs returns just the ids of the caller's friends.
func (s *Store) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT high_id FROM friendships WHERE low_id = ?
UNION
SELECT low_id FROM friendships WHERE high_id = ?`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query friend ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AreFriends reports whether the canonical pair exists.
func (s *Store) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	low, high := canonicalPair(a, b)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM friendships WHERE low_id = ? AND high_id = ?`, low, high,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return n > 0, nil
}

// DeleteFriendship removes the canonical row for the pair. ErrNotFound
// when they were not friends.
func (s *Store) DeleteFriendship(ctx context.Context, a, b int64) error {
	low, high := canonicalPair(a, b)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friendships WHERE low_id = ? AND high_id = ?`, low, high,
	)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
