package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"inksprint/server/internal/protocol"
	"inksprint/server/internal/store"
)

// memberOf verifies the caller's membership in the room named by the
// request.
func (s *Server) memberOf(ctx context.Context, userID, groupID int64) (bool, error) {
	current, member, err := s.st.MembershipOf(ctx, userID)
	if err != nil {
		return false, err
	}
	return member && current == groupID, nil
}

func (s *Server) handleGroupChat(ctx context.Context, c *session, req protocol.Request) error {
	fail := func(msg string) error {
		return c.Send(protocol.Response{Type: protocol.TypeGroupChatResponse, Status: protocol.StatusFail, Msg: msg})
	}

	if req.Content == "" {
		return fail("empty message")
	}
	ok, err := s.memberOf(ctx, c.userID, req.GroupID)
	if err != nil {
		_ = fail("internal error")
		return err
	}
	if !ok {
		return fail("not a member of this group")
	}

	u, err := s.st.UserByID(ctx, c.userID)
	if err != nil {
		_ = fail("internal error")
		return err
	}

	now := s.now()
	if _, err := s.st.AddMessage(ctx, req.GroupID, &c.userID, u.Nickname, req.Content, now); err != nil {
		_ = fail("internal error")
		return err
	}

	members, err := s.st.MemberIDs(ctx, req.GroupID)
	if err != nil {
		_ = fail("internal error")
		return err
	}
	// The sender receives the push too, so every client renders the same
	// committed history.
	s.reg.SendMany(members, protocol.GroupMsgPush{
		Type:    protocol.TypeGroupMsgPush,
		GroupID: req.GroupID,
		Sender:  u.Nickname,
		Content: req.Content,
		Time:    now.Format(timeLayout),
	})
	return c.Send(protocol.Response{Type: protocol.TypeGroupChatResponse, Status: protocol.StatusSuccess})
}

func (s *Server) handleGetGroupDetail(ctx context.Context, c *session, req protocol.Request) error {
	g, err := s.st.GroupByID(ctx, req.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Send(protocol.GroupDetailResponse{Type: protocol.TypeGroupDetailResponse, Status: protocol.StatusFail, Msg: "group not found"})
	}
	if err != nil {
		_ = c.Send(protocol.GroupDetailResponse{Type: protocol.TypeGroupDetailResponse, Status: protocol.StatusError})
		return err
	}

	since := s.now().Add(-store.ChatWindowHours * time.Hour)
	msgs, err := s.st.MessagesSince(ctx, g.ID, since)
	if err != nil {
		_ = c.Send(protocol.GroupDetailResponse{Type: protocol.TypeGroupDetailResponse, Status: protocol.StatusError})
		return err
	}
	history := make([]protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, protocol.ChatMessage{
			Time:    time.Unix(m.TS, 0).Format(timeLayout),
			Sender:  m.SenderNickname,
			Content: m.Content,
		})
	}

	leaderboard, err := s.buildLeaderboard(ctx, g)
	if err != nil {
		_ = c.Send(protocol.GroupDetailResponse{Type: protocol.TypeGroupDetailResponse, Status: protocol.StatusError})
		return err
	}
	ownerAvatar, err := s.avatars.Load(g.OwnerID)
	if err != nil {
		s.log.Warn("avatar load failed", "user_id", g.OwnerID, "err", err)
	}

	return c.Send(protocol.GroupDetailResponse{
		Type:         protocol.TypeGroupDetailResponse,
		Status:       protocol.StatusSuccess,
		GroupID:      g.ID,
		Name:         g.Name,
		OwnerID:      g.OwnerID,
		OwnerAvatar:  ownerAvatar,
		SprintActive: g.SprintActive,
		SprintTarget: g.SprintTarget,
		ChatHistory:  history,
		Leaderboard:  leaderboard,
	})
}

// buildLeaderboard projects the room's members against their sprint
// scores, highest first, ties broken by user id for a stable order.
func (s *Server) buildLeaderboard(ctx context.Context, g store.Group) ([]protocol.LeaderboardEntry, error) {
	members, err := s.st.MemberIDs(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	scores, err := s.st.SprintScores(ctx, g.ID)
	if err != nil {
		return nil, err
	}

	entries := make([]protocol.LeaderboardEntry, 0, len(members))
	for _, id := range members {
		u, err := s.st.UserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		avatar, err := s.avatars.Load(id)
		if err != nil {
			s.log.Warn("avatar load failed", "user_id", id, "err", err)
		}
		score := scores[id]
		entries = append(entries, protocol.LeaderboardEntry{
			UserID:        id,
			Nickname:      u.Nickname,
			WordCount:     score,
			IsOnline:      s.reg.Online(id),
			AvatarData:    avatar,
			ReachedTarget: g.SprintTarget > 0 && score >= g.SprintTarget,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].WordCount != entries[j].WordCount {
			return entries[i].WordCount > entries[j].WordCount
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

func (s *Server) handleSprintControl(ctx context.Context, c *session, req protocol.Request) error {
	fail := func(msg string) error {
		return c.Send(protocol.Response{Type: protocol.TypeSprintControlResponse, Status: protocol.StatusFail, Msg: msg})
	}

	u, err := s.st.UserByID(ctx, c.userID)
	if err != nil {
		_ = fail("internal error")
		return err
	}

	now := s.now()
	var announcement string
	switch req.Action {
	case protocol.ActionStart:
		if req.Target <= 0 {
			return fail("target must be positive")
		}
		announcement = fmt.Sprintf("%s started a sprint! Target: %d words.", u.Nickname, req.Target)
		err = s.st.StartSprint(ctx, req.GroupID, c.userID, req.Target, announcement, now)
	case protocol.ActionStop:
		announcement = fmt.Sprintf("%s ended the sprint.", u.Nickname)
		err = s.st.StopSprint(ctx, req.GroupID, c.userID, announcement, now)
	default:
		return fail("unknown action")
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail("group not found")
	case errors.Is(err, store.ErrForbidden):
		return fail("only the owner controls sprints")
	case err != nil:
		_ = fail("internal error")
		return err
	}

	members, err := s.st.MemberIDs(ctx, req.GroupID)
	if err != nil {
		_ = fail("internal error")
		return err
	}
	s.reg.SendMany(members, protocol.GroupMsgPush{
		Type:    protocol.TypeGroupMsgPush,
		GroupID: req.GroupID,
		Sender:  "SYSTEM",
		Content: announcement,
		Time:    now.Format(timeLayout),
	})
	s.reg.SendMany(members, protocol.SprintStatusPush{Type: protocol.TypeSprintStatusPush, GroupID: req.GroupID})
	s.reg.BroadcastAll(protocol.Push(protocol.TypeRefreshGroups))

	s.log.Info("sprint control", "group_id", req.GroupID, "action", req.Action, "target", req.Target)
	return c.Send(protocol.Response{Type: protocol.TypeSprintControlResponse, Status: protocol.StatusSuccess})
}
