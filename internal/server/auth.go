package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"inksprint/server/internal/metrics"
	"inksprint/server/internal/protocol"
	"inksprint/server/internal/store"
)

// Clients send SHA-256 hex of the password; the server wraps that opaque
// credential in bcrypt before storing it. Rows written before the wrap was
// introduced hold the credential verbatim and are migrated on next login.

func hashCredential(clientHash string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(clientHash), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(h), nil
}

// verifyCredential reports whether clientHash matches stored, and whether
// the stored value is a legacy verbatim credential that should be
// re-wrapped.
func verifyCredential(stored, clientHash string) (ok, legacy bool) {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(clientHash)) == nil, false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(clientHash)) == 1, true
}

func (s *Server) handleRegister(ctx context.Context, c *session, req protocol.Request) error {
	if req.Username == "" || req.Password == "" {
		return c.Send(protocol.Response{Type: protocol.TypeRegisterResponse, Status: protocol.StatusFail, Msg: "username and password are required"})
	}

	hashed, err := hashCredential(req.Password)
	if err != nil {
		_ = c.Send(protocol.Response{Type: protocol.TypeRegisterResponse, Status: protocol.StatusError})
		return err
	}
	_, err = s.st.CreateUser(ctx, req.Username, hashed, req.Email)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		return c.Send(protocol.Response{Type: protocol.TypeRegisterResponse, Status: protocol.StatusFail, Msg: "username already exists"})
	case errors.Is(err, store.ErrEmailTaken):
		return c.Send(protocol.Response{Type: protocol.TypeRegisterResponse, Status: protocol.StatusFail, Msg: "email already in use"})
	case err != nil:
		_ = c.Send(protocol.Response{Type: protocol.TypeRegisterResponse, Status: protocol.StatusError})
		return err
	}
	s.log.Info("user registered", "username", req.Username)
	return c.Send(protocol.Response{Type: protocol.TypeRegisterResponse, Status: protocol.StatusSuccess})
}

func (s *Server) handleLogin(ctx context.Context, c *session, req protocol.Request) error {
	fail := func() error {
		return c.Send(protocol.LoginResponse{Type: protocol.TypeLoginResponse, Status: protocol.StatusFail, Msg: "invalid username or password"})
	}

	u, err := s.st.UserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return fail()
	}
	if err != nil {
		_ = fail()
		return err
	}

	ok, legacy := verifyCredential(u.PasswordHash, req.Password)
	if !ok {
		return fail()
	}
	if legacy {
		if hashed, err := hashCredential(req.Password); err == nil {
			if err := s.st.UpdateCredential(ctx, u.ID, hashed); err != nil {
				s.log.Warn("credential migration failed", "user_id", u.ID, "err", err)
			}
		}
	}

	c.userID = u.ID
	s.reg.Attach(u.ID, c)
	metrics.SessionsOnline.Set(float64(s.reg.Count()))

	sendErr := func() error {
		return c.Send(protocol.LoginResponse{Type: protocol.TypeLoginResponse, Status: protocol.StatusError})
	}
	today, err := s.st.DailyTotal(ctx, u.ID, s.now().Format("2006-01-02"))
	if err != nil {
		_ = sendErr()
		return err
	}
	avatar, err := s.avatars.Load(u.ID)
	if err != nil {
		s.log.Warn("avatar load failed", "user_id", u.ID, "err", err)
	}

	resp := protocol.LoginResponse{
		Type:       protocol.TypeLoginResponse,
		Status:     protocol.StatusSuccess,
		UserID:     u.ID,
		Username:   u.Username,
		Nickname:   u.Nickname,
		Email:      u.Email,
		AvatarData: avatar,
		Signature:  u.Signature,
		TodayTotal: today,
	}
	if groupID, member, err := s.st.MembershipOf(ctx, u.ID); err != nil {
		_ = sendErr()
		return err
	} else if member {
		g, err := s.st.GroupByID(ctx, groupID)
		if err == nil {
			resp.CurrentGroup = &protocol.CurrentGroup{GroupID: g.ID, Name: g.Name}
		} else if !errors.Is(err, store.ErrNotFound) {
			_ = sendErr()
			return err
		}
	}

	s.log.Info("user logged in", "user_id", u.ID, "username", u.Username)
	return c.Send(resp)
}

func (s *Server) handleSendCode(ctx context.Context, c *session, req protocol.Request) error {
	fail := func(msg string) error {
		return c.Send(protocol.Response{Type: protocol.TypeCodeResponse, Status: protocol.StatusFail, Msg: msg})
	}

	if s.mail == nil {
		return fail("mail is not configured")
	}
	u, err := s.st.UserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return fail("unknown user")
	}
	if err != nil {
		_ = fail("internal error")
		return err
	}
	if u.Email == "" {
		return fail("no email on file")
	}

	code, err := s.codes.Issue(u.Username)
	if err != nil {
		_ = fail("internal error")
		return err
	}
	if err := s.mail.SendCode(u.Email, code); err != nil {
		s.codes.Drop(u.Username)
		s.log.Warn("verification mail failed", "user_id", u.ID, "err", err)
		return fail("could not send email")
	}
	return c.Send(protocol.Response{Type: protocol.TypeCodeResponse, Status: protocol.StatusSuccess})
}

func (s *Server) handleResetPassword(ctx context.Context, c *session, req protocol.Request) error {
	fail := func(msg string) error {
		return c.Send(protocol.Response{Type: protocol.TypeResetResponse, Status: protocol.StatusFail, Msg: msg})
	}

	if req.NewPassword == "" {
		return fail("new password is required")
	}
	if !s.codes.Verify(req.Username, req.Code) {
		return fail("invalid or expired code")
	}

	u, err := s.st.UserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return fail("unknown user")
	}
	if err != nil {
		_ = fail("internal error")
		return err
	}
	hashed, err := hashCredential(req.NewPassword)
	if err != nil {
		_ = fail("internal error")
		return err
	}
	if err := s.st.UpdateCredential(ctx, u.ID, hashed); err != nil {
		_ = fail("internal error")
		return err
	}
	s.log.Info("password reset", "user_id", u.ID)
	return c.Send(protocol.Response{Type: protocol.TypeResetResponse, Status: protocol.StatusSuccess})
}

func (s *Server) handleUpdateProfile(ctx context.Context, c *session, req protocol.Request) error {
	var upd store.ProfileUpdate
	if req.Nickname != "" {
		upd.Nickname = &req.Nickname
	}
	if req.Email != "" {
		upd.Email = &req.Email
	}
	if req.Signature != "" {
		upd.Signature = &req.Signature
	}
	err := s.st.UpdateProfile(ctx, c.userID, upd)
	if errors.Is(err, store.ErrEmailTaken) {
		return c.Send(protocol.Response{Type: protocol.TypeProfileUpdated, Status: protocol.StatusFail, Msg: "email already in use"})
	}
	if err != nil {
		_ = c.Send(protocol.Response{Type: protocol.TypeProfileUpdated, Status: protocol.StatusError})
		return err
	}

	// The avatar lands only after the row update commits, so a rejected
	// profile change cannot leave a new avatar behind.
	if req.AvatarData != "" {
		name, err := s.avatars.Save(c.userID, req.AvatarData)
		if err != nil {
			return c.Send(protocol.Response{Type: protocol.TypeProfileUpdated, Status: protocol.StatusFail, Msg: "invalid avatar data"})
		}
		if err := s.st.SetAvatarFile(ctx, c.userID, name); err != nil {
			_ = c.Send(protocol.Response{Type: protocol.TypeProfileUpdated, Status: protocol.StatusError})
			return err
		}
	}
	return c.Send(protocol.Response{Type: protocol.TypeProfileUpdated, Status: protocol.StatusSuccess})
}
