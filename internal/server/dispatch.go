package server

import (
	"context"

	"inksprint/server/internal/protocol"
)

type handlerFunc func(ctx context.Context, c *session, req protocol.Request) error

// dispatchTable maps request types to handlers. Everything not listed in
// openTypes requires a bound user id.
func (s *Server) dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.TypeRegister:      s.handleRegister,
		protocol.TypeLogin:         s.handleLogin,
		protocol.TypeSendCode:      s.handleSendCode,
		protocol.TypeResetPassword: s.handleResetPassword,
		protocol.TypeUpdateProfile: s.handleUpdateProfile,

		protocol.TypeSyncData:     s.handleSyncData,
		protocol.TypeGetAnalytics: s.handleGetAnalytics,
		protocol.TypeGetDetails:   s.handleGetDetails,

		protocol.TypeSearchUser:        s.handleSearchUser,
		protocol.TypeAddFriend:         s.handleAddFriend,
		protocol.TypeDeleteFriend:      s.handleDeleteFriend,
		protocol.TypeGetFriendRequests: s.handleGetFriendRequests,
		protocol.TypeRespondFriend:     s.handleRespondFriend,
		protocol.TypeGetFriends:        s.handleGetFriends,

		protocol.TypeCreateGroup:     s.handleCreateGroup,
		protocol.TypeGetPublicGroups: s.handleGetPublicGroups,
		protocol.TypeJoinGroup:       s.handleJoinGroup,
		protocol.TypeLeaveGroup:      s.handleLeaveGroup,
		protocol.TypeGroupChat:       s.handleGroupChat,
		protocol.TypeGetGroupDetail:  s.handleGetGroupDetail,
		protocol.TypeSprintControl:   s.handleSprintControl,
	}
}

// openTypes may be sent before login.
var openTypes = map[string]bool{
	protocol.TypeRegister:      true,
	protocol.TypeLogin:         true,
	protocol.TypeSendCode:      true,
	protocol.TypeResetPassword: true,
}

func (s *Server) dispatch(ctx context.Context, c *session, req protocol.Request) error {
	h, ok := s.handlers[req.Type]
	if !ok {
		// Unknown types get a generic acknowledgement; old clients probe
		// with types this server never learned.
		return c.Send(protocol.Response{Type: protocol.TypeGenericResponse, Status: protocol.StatusOK})
	}
	if c.userID == 0 && !openTypes[req.Type] {
		return c.Send(protocol.Response{
			Type:   protocol.TypeGenericResponse,
			Status: protocol.StatusError,
			Msg:    "not_logged_in",
		})
	}
	return h(ctx, c, req)
}
