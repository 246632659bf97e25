package server

import (
	"context"
	"errors"
	"time"

	"inksprint/server/internal/protocol"
	"inksprint/server/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

func (s *Server) handleCreateGroup(ctx context.Context, c *session, req protocol.Request) error {
	if req.Name == "" {
		return c.Send(protocol.CreateGroupResponse{Type: protocol.TypeCreateGroupResponse, Status: protocol.StatusFail, Msg: "group name is required"})
	}
	g, err := s.st.CreateGroup(ctx, c.userID, req.Name, req.IsPrivate, req.Password)
	var inGroup *store.AlreadyInGroupError
	switch {
	case errors.As(err, &inGroup):
		return c.Send(protocol.CreateGroupResponse{
			Type:           protocol.TypeCreateGroupResponse,
			Status:         protocol.StatusFail,
			Msg:            "already_in_group",
			CurrentGroupID: inGroup.GroupID,
		})
	case err != nil:
		_ = c.Send(protocol.CreateGroupResponse{Type: protocol.TypeCreateGroupResponse, Status: protocol.StatusError, Msg: "could not create group"})
		return err
	}

	s.reg.BroadcastAll(protocol.Push(protocol.TypeRefreshGroups))
	s.log.Info("group created", "group_id", g.ID, "owner_id", c.userID)
	return c.Send(protocol.CreateGroupResponse{
		Type:      protocol.TypeCreateGroupResponse,
		Status:    protocol.StatusSuccess,
		GroupID:   g.ID,
		GroupName: g.Name,
	})
}

func (s *Server) handleGetPublicGroups(ctx context.Context, c *session, req protocol.Request) error {
	rows, err := s.st.ListLobby(ctx, c.userID)
	if err != nil {
		_ = c.Send(protocol.GroupListResponse{Type: protocol.TypeGroupListResponse, Status: protocol.StatusError})
		return err
	}
	data := make([]protocol.LobbyGroup, 0, len(rows))
	for _, r := range rows {
		data = append(data, protocol.LobbyGroup{
			ID:            r.ID,
			Name:          r.Name,
			OwnerNickname: r.OwnerNickname,
			MemberCount:   r.MemberCount,
			HasPassword:   r.HasPassword,
			SprintActive:  r.SprintActive,
			IsPrivate:     r.IsPrivate,
			UpdatedAt:     time.Unix(r.UpdatedAt, 0).Format(timeLayout),
		})
	}
	return c.Send(protocol.GroupListResponse{Type: protocol.TypeGroupListResponse, Status: protocol.StatusSuccess, Data: data})
}

func (s *Server) handleJoinGroup(ctx context.Context, c *session, req protocol.Request) error {
	err := s.st.JoinGroup(ctx, c.userID, req.GroupID, req.Password)
	var inGroup *store.AlreadyInGroupError
	switch {
	case err == nil:
		s.reg.BroadcastAll(protocol.Push(protocol.TypeRefreshGroups))
		return c.Send(protocol.JoinGroupResponse{Type: protocol.TypeJoinGroupResponse, Status: protocol.StatusSuccess, GroupID: req.GroupID})
	case errors.Is(err, store.ErrNotFound):
		return c.Send(protocol.JoinGroupResponse{Type: protocol.TypeJoinGroupResponse, Status: protocol.StatusFail, Msg: "group not found"})
	case errors.As(err, &inGroup):
		return c.Send(protocol.JoinGroupResponse{
			Type:           protocol.TypeJoinGroupResponse,
			Status:         protocol.StatusFail,
			Msg:            "already_in_group",
			CurrentGroupID: inGroup.GroupID,
		})
	case errors.Is(err, store.ErrSprintActive):
		return c.Send(protocol.JoinGroupResponse{Type: protocol.TypeJoinGroupResponse, Status: protocol.StatusFail, Msg: "sprint_active"})
	case errors.Is(err, store.ErrWrongPassword):
		return c.Send(protocol.JoinGroupResponse{
			Type:         protocol.TypeJoinGroupResponse,
			Status:       protocol.StatusFail,
			Msg:          "incorrect_password",
			NeedPassword: true,
		})
	case errors.Is(err, store.ErrGroupFull):
		return c.Send(protocol.JoinGroupResponse{Type: protocol.TypeJoinGroupResponse, Status: protocol.StatusFail, Msg: "group_full"})
	default:
		_ = c.Send(protocol.JoinGroupResponse{Type: protocol.TypeJoinGroupResponse, Status: protocol.StatusError})
		return err
	}
}

func (s *Server) handleLeaveGroup(ctx context.Context, c *session, req protocol.Request) error {
	disbanded, former, err := s.st.LeaveGroup(ctx, c.userID, req.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Send(protocol.Response{Type: protocol.TypeLeaveGroupResponse, Status: protocol.StatusFail, Msg: "not in this group"})
	}
	if err != nil {
		_ = c.Send(protocol.Response{Type: protocol.TypeLeaveGroupResponse, Status: protocol.StatusError})
		return err
	}

	msg := "left group"
	if disbanded {
		msg = "Group disbanded"
		// The commit happened above; former members learn their room is gone.
		s.reg.SendManyExcept(former, c.userID, protocol.GroupDisbanded{Type: protocol.TypeGroupDisbanded, GroupID: req.GroupID})
	}
	s.reg.BroadcastAll(protocol.Push(protocol.TypeRefreshGroups))
	s.log.Info("user left group", "user_id", c.userID, "group_id", req.GroupID, "disbanded", disbanded)
	return c.Send(protocol.Response{Type: protocol.TypeLeaveGroupResponse, Status: protocol.StatusSuccess, Msg: msg})
}
