package server

import (
	"context"
	"errors"

	"inksprint/server/internal/metrics"
	"inksprint/server/internal/protocol"
	"inksprint/server/internal/store"
)

// pushTo sends a best-effort push to one user and counts the misses.
func (s *Server) pushTo(userID int64, v any) {
	if !s.reg.Send(userID, v) {
		metrics.PushesDropped.Inc()
	}
}

func (s *Server) handleSearchUser(ctx context.Context, c *session, req protocol.Request) error {
	u, err := s.st.SearchUser(ctx, req.Query)
	if errors.Is(err, store.ErrNotFound) {
		return c.Send(protocol.SearchUserResponse{Type: protocol.TypeSearchUserResponse, Status: protocol.StatusFail, Msg: "user not found"})
	}
	if err != nil {
		_ = c.Send(protocol.SearchUserResponse{Type: protocol.TypeSearchUserResponse, Status: protocol.StatusError})
		return err
	}
	return c.Send(protocol.SearchUserResponse{
		Type:   protocol.TypeSearchUserResponse,
		Status: protocol.StatusSuccess,
		Data:   &protocol.UserSummary{ID: u.ID, Username: u.Username, Nickname: u.Nickname},
	})
}

func (s *Server) handleAddFriend(ctx context.Context, c *session, req protocol.Request) error {
	fail := func(msg string) error {
		return c.Send(protocol.Response{Type: protocol.TypeAddFriendResponse, Status: protocol.StatusFail, Msg: msg})
	}

	if req.FriendID == c.userID {
		return fail("cannot add yourself")
	}
	if _, err := s.st.UserByID(ctx, req.FriendID); errors.Is(err, store.ErrNotFound) {
		return fail("user not found")
	} else if err != nil {
		_ = fail("internal error")
		return err
	}

	_, err := s.st.CreateFriendRequest(ctx, c.userID, req.FriendID)
	switch {
	case errors.Is(err, store.ErrAlreadyFriends):
		return fail("already friends")
	case errors.Is(err, store.ErrRequestExists):
		return fail("request already pending")
	case err != nil:
		_ = fail("internal error")
		return err
	}

	s.pushTo(req.FriendID, protocol.Push(protocol.TypeRefreshFriendRequests))
	return c.Send(protocol.Response{Type: protocol.TypeAddFriendResponse, Status: protocol.StatusSuccess})
}

func (s *Server) handleGetFriendRequests(ctx context.Context, c *session, req protocol.Request) error {
	rows, err := s.st.IncomingRequests(ctx, c.userID)
	if err != nil {
		_ = c.Send(protocol.FriendRequestsResponse{Type: protocol.TypeFriendRequestsResponse, Status: protocol.StatusError})
		return err
	}
	data := make([]protocol.FriendRequestEntry, 0, len(rows))
	for _, r := range rows {
		data = append(data, protocol.FriendRequestEntry{
			RequestID: r.RequestID,
			SenderID:  r.SenderID,
			Username:  r.Username,
			Nickname:  r.Nickname,
		})
	}
	return c.Send(protocol.FriendRequestsResponse{Type: protocol.TypeFriendRequestsResponse, Status: protocol.StatusSuccess, Data: data})
}

func (s *Server) handleRespondFriend(ctx context.Context, c *session, req protocol.Request) error {
	fail := func(msg string) error {
		return c.Send(protocol.Response{Type: protocol.TypeRespondFriendResponse, Status: protocol.StatusFail, Msg: msg})
	}

	switch req.Action {
	case protocol.ActionAccept:
		senderID, err := s.st.AcceptFriendRequest(ctx, req.RequestID, c.userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fail("request not found")
		case errors.Is(err, store.ErrForbidden):
			return fail("request is not addressed to you")
		case err != nil:
			_ = fail("internal error")
			return err
		}
		s.pushTo(senderID, protocol.Push(protocol.TypeRefreshFriends))
		s.pushTo(c.userID, protocol.Push(protocol.TypeRefreshFriends))
		return c.Send(protocol.Response{Type: protocol.TypeRespondFriendResponse, Status: protocol.StatusSuccess})

	case protocol.ActionReject:
		err := s.st.RejectFriendRequest(ctx, req.RequestID, c.userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fail("request not found")
		case errors.Is(err, store.ErrForbidden):
			return fail("request is not addressed to you")
		case err != nil:
			_ = fail("internal error")
			return err
		}
		s.pushTo(c.userID, protocol.Push(protocol.TypeRefreshFriendRequests))
		return c.Send(protocol.Response{Type: protocol.TypeRespondFriendResponse, Status: protocol.StatusSuccess})

	default:
		return fail("unknown action")
	}
}

func (s *Server) handleGetFriends(ctx context.Context, c *session, req protocol.Request) error {
	friends, err := s.st.Friends(ctx, c.userID)
	if err != nil {
		_ = c.Send(protocol.GetFriendsResponse{Type: protocol.TypeGetFriendsResponse, Status: protocol.StatusError})
		return err
	}

	data := make([]protocol.FriendEntry, 0, len(friends))
	for _, f := range friends {
		status := "Offline"
		if s.reg.Online(f.ID) {
			status = "Online"
		}
		avatar, err := s.avatars.Load(f.ID)
		if err != nil {
			s.log.Warn("avatar load failed", "user_id", f.ID, "err", err)
		}
		data = append(data, protocol.FriendEntry{
			ID:         f.ID,
			Username:   f.Username,
			Nickname:   f.Nickname,
			Signature:  f.Signature,
			Status:     status,
			AvatarData: avatar,
		})
	}
	return c.Send(protocol.GetFriendsResponse{Type: protocol.TypeGetFriendsResponse, Status: protocol.StatusSuccess, Data: data})
}

func (s *Server) handleDeleteFriend(ctx context.Context, c *session, req protocol.Request) error {
	err := s.st.DeleteFriendship(ctx, c.userID, req.FriendID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Send(protocol.Response{Type: protocol.TypeDeleteFriendResponse, Status: protocol.StatusFail, Msg: "not friends"})
	}
	if err != nil {
		_ = c.Send(protocol.Response{Type: protocol.TypeDeleteFriendResponse, Status: protocol.StatusError})
		return err
	}
	s.pushTo(req.FriendID, protocol.Push(protocol.TypeRefreshFriends))
	return c.Send(protocol.Response{Type: protocol.TypeDeleteFriendResponse, Status: protocol.StatusSuccess})
}
