package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"inksprint/server/internal/blob"
	"inksprint/server/internal/mail"
	"inksprint/server/internal/registry"
	"inksprint/server/internal/secure"
	"inksprint/server/internal/store"
)

// codeCatcher records the last verification code "sent" per address.
type codeCatcher struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *codeCatcher) sender() mail.Sender {
	return mail.SenderFunc(func(to, code string) error {
		m.mu.Lock()
		m.codes[to] = code
		m.mu.Unlock()
		return nil
	})
}

func (m *codeCatcher) codeFor(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

func startServer(t *testing.T) (addr string, mails *codeCatcher) {
	t.Helper()
	addr, mails, _ = startServerFull(t)
	return addr, mails
}

func startServerFull(t *testing.T) (addr string, mails *codeCatcher, st *store.Store) {
	t.Helper()

	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	avatars, err := blob.NewAvatars(t.TempDir())
	if err != nil {
		t.Fatalf("avatars: %v", err)
	}

	mails = &codeCatcher{codes: make(map[string]string)}
	srv, err := New(Deps{
		Store:    st,
		Registry: registry.New(),
		Codes:    registry.NewCodes(),
		Avatars:  avatars,
		Mail:     mails.sender(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, ln) }()
	return ln.Addr().String(), mails, st
}

// testClient drives the wire protocol exactly as a real client would.
// Pushes interleave freely with responses, so frames read while waiting
// for a specific type are buffered rather than dropped.
type testClient struct {
	t       *testing.T
	conn    net.Conn
	cipher  *secure.Cipher
	pending []map[string]any
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	cipher, err := secure.ClientHandshake(conn)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	return &testClient{t: t, conn: conn, cipher: cipher}
}

func (c *testClient) send(v map[string]any) {
	c.t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal request: %v", err)
	}
	sealed, err := c.cipher.Seal(body)
	if err != nil {
		c.t.Fatalf("seal request: %v", err)
	}
	if err := secure.WriteFrame(c.conn, sealed); err != nil {
		c.t.Fatalf("write request: %v", err)
	}
}

func (c *testClient) recv() map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sealed, err := secure.ReadFrame(c.conn)
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	body, err := c.cipher.Open(sealed)
	if err != nil {
		c.t.Fatalf("open frame: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		c.t.Fatalf("decode frame: %v", err)
	}
	return out
}

// recvType returns the next frame of the wanted type, checking buffered
// frames first and buffering whatever else arrives in the meantime.
func (c *testClient) recvType(typ string) map[string]any {
	c.t.Helper()
	for i, msg := range c.pending {
		if msg["type"] == typ {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return msg
		}
	}
	for i := 0; i < 50; i++ {
		msg := c.recv()
		if msg["type"] == typ {
			return msg
		}
		c.pending = append(c.pending, msg)
	}
	c.t.Fatalf("no %q frame within 50 reads", typ)
	return nil
}

func (c *testClient) request(v map[string]any, respType string) map[string]any {
	c.t.Helper()
	c.send(v)
	return c.recvType(respType)
}

func (c *testClient) registerAndLogin(username string) int64 {
	c.t.Helper()
	resp := c.request(map[string]any{"type": "register", "username": username, "password": "H-" + username}, "register_response")
	if resp["status"] != "success" {
		c.t.Fatalf("register %s: %v", username, resp)
	}
	resp = c.request(map[string]any{"type": "login", "username": username, "password": "H-" + username}, "login_response")
	if resp["status"] != "success" {
		c.t.Fatalf("login %s: %v", username, resp)
	}
	return int64(resp["user_id"].(float64))
}

func TestRegisterLoginSyncAnalytics(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialClient(t, addr)

	resp := c.request(map[string]any{"type": "register", "username": "alice", "password": "H1"}, "register_response")
	if resp["status"] != "success" {
		t.Fatalf("register: %v", resp)
	}

	// Wrong credential fails, right one succeeds.
	resp = c.request(map[string]any{"type": "login", "username": "alice", "password": "wrong"}, "login_response")
	if resp["status"] != "fail" {
		t.Fatalf("login with wrong password: %v", resp)
	}
	resp = c.request(map[string]any{"type": "login", "username": "alice", "password": "H1"}, "login_response")
	if resp["status"] != "success" {
		t.Fatalf("login: %v", resp)
	}
	if resp["today_total"].(float64) != 0 {
		t.Fatalf("fresh account today_total: %v", resp["today_total"])
	}

	today := time.Now().Format("2006-01-02")
	resp = c.request(map[string]any{"type": "sync_data", "increment": 50, "local_date": today}, "sync_response")
	if resp["status"] != "ok" {
		t.Fatalf("sync: %v", resp)
	}

	resp = c.request(map[string]any{"type": "get_analytics"}, "analytics_data")
	heatmap := resp["heatmap"].(map[string]any)
	if heatmap[today].(float64) != 50 {
		t.Fatalf("heatmap: %v", heatmap)
	}

	resp = c.request(map[string]any{"type": "get_details"}, "details_data")
	if len(resp["data"].([]any)) != 1 {
		t.Fatalf("details: %v", resp)
	}
}

func TestAuthGating(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialClient(t, addr)

	resp := c.request(map[string]any{"type": "sync_data", "increment": 10}, "response")
	if resp["status"] != "error" || resp["msg"] != "not_logged_in" {
		t.Fatalf("unauthenticated sync: %v", resp)
	}

	// Unknown types are acknowledged, not fatal.
	resp = c.request(map[string]any{"type": "no_such_thing"}, "response")
	if resp["status"] != "ok" {
		t.Fatalf("unknown type: %v", resp)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()
	addr, mails := startServer(t)
	c := dialClient(t, addr)

	resp := c.request(map[string]any{"type": "register", "username": "carol", "password": "OLD", "email": "carol@example.com"}, "register_response")
	if resp["status"] != "success" {
		t.Fatalf("register: %v", resp)
	}

	resp = c.request(map[string]any{"type": "send_code", "username": "carol"}, "code_response")
	if resp["status"] != "success" {
		t.Fatalf("send_code: %v", resp)
	}
	code := mails.codeFor("carol@example.com")
	if len(code) != 6 {
		t.Fatalf("captured code %q", code)
	}

	wrong := "999999"
	if wrong == code {
		wrong = "999998"
	}
	resp = c.request(map[string]any{"type": "reset_password", "username": "carol", "code": wrong, "new_password": "NEW"}, "reset_response")
	if resp["status"] != "fail" {
		t.Fatalf("wrong code accepted: %v", resp)
	}
	resp = c.request(map[string]any{"type": "reset_password", "username": "carol", "code": code, "new_password": "NEW"}, "reset_response")
	if resp["status"] != "success" {
		t.Fatalf("reset: %v", resp)
	}
	// Consumed: the same code cannot be replayed.
	resp = c.request(map[string]any{"type": "reset_password", "username": "carol", "code": code, "new_password": "NEW2"}, "reset_response")
	if resp["status"] != "fail" {
		t.Fatalf("code replay accepted: %v", resp)
	}

	resp = c.request(map[string]any{"type": "login", "username": "carol", "password": "OLD"}, "login_response")
	if resp["status"] != "fail" {
		t.Fatalf("old password still valid: %v", resp)
	}
	resp = c.request(map[string]any{"type": "login", "username": "carol", "password": "NEW"}, "login_response")
	if resp["status"] != "success" {
		t.Fatalf("new password rejected: %v", resp)
	}

	// No email on file → fail.
	c2 := dialClient(t, addr)
	resp = c2.request(map[string]any{"type": "register", "username": "dave", "password": "X"}, "register_response")
	if resp["status"] != "success" {
		t.Fatalf("register dave: %v", resp)
	}
	resp = c2.request(map[string]any{"type": "send_code", "username": "dave"}, "code_response")
	if resp["status"] != "fail" {
		t.Fatalf("send_code without email: %v", resp)
	}
}

func TestFriendHandshake(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	alice := dialClient(t, addr)
	bob := dialClient(t, addr)
	aliceID := alice.registerAndLogin("alice")
	bobID := bob.registerAndLogin("bob")

	resp := alice.request(map[string]any{"type": "add_friend", "friend_id": bobID}, "add_friend_response")
	if resp["status"] != "success" {
		t.Fatalf("add_friend: %v", resp)
	}
	if push := bob.recvType("refresh_friend_requests"); push == nil {
		t.Fatal("bob missed the request push")
	}

	// Duplicate request, both directions, is a conflict.
	resp = alice.request(map[string]any{"type": "add_friend", "friend_id": bobID}, "add_friend_response")
	if resp["status"] != "fail" {
		t.Fatalf("duplicate add_friend: %v", resp)
	}
	resp = bob.request(map[string]any{"type": "add_friend", "friend_id": aliceID}, "add_friend_response")
	if resp["status"] != "fail" {
		t.Fatalf("reverse add_friend: %v", resp)
	}

	resp = bob.request(map[string]any{"type": "get_friend_requests"}, "friend_requests_response")
	reqs := resp["data"].([]any)
	if len(reqs) != 1 {
		t.Fatalf("requests: %v", reqs)
	}
	requestID := reqs[0].(map[string]any)["request_id"].(float64)

	resp = bob.request(map[string]any{"type": "respond_friend", "request_id": requestID, "action": "accept"}, "respond_friend_response")
	if resp["status"] != "success" {
		t.Fatalf("accept: %v", resp)
	}
	alice.recvType("refresh_friends")
	bob.recvType("refresh_friends")

	resp = alice.request(map[string]any{"type": "get_friends"}, "get_friends_response")
	friends := resp["data"].([]any)
	if len(friends) != 1 {
		t.Fatalf("friends: %v", friends)
	}
	entry := friends[0].(map[string]any)
	if entry["nickname"] != "bob" || entry["status"] != "Online" {
		t.Fatalf("friend entry: %v", entry)
	}

	// Search finds exact matches only.
	resp = alice.request(map[string]any{"type": "search_user", "query": "bob"}, "search_user_response")
	if resp["status"] != "success" || resp["data"].(map[string]any)["id"].(float64) != float64(bobID) {
		t.Fatalf("search: %v", resp)
	}
	resp = alice.request(map[string]any{"type": "search_user", "query": "bo"}, "search_user_response")
	if resp["status"] != "fail" {
		t.Fatalf("partial search matched: %v", resp)
	}

	resp = alice.request(map[string]any{"type": "delete_friend", "friend_id": bobID}, "delete_friend_response")
	if resp["status"] != "success" {
		t.Fatalf("delete_friend: %v", resp)
	}
	bob.recvType("refresh_friends")
}

func TestSingleRoomInvariantOverWire(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialClient(t, addr)
	c.registerAndLogin("alice")

	resp := c.request(map[string]any{"type": "create_group", "name": "Room1"}, "create_group_response")
	if resp["status"] != "success" {
		t.Fatalf("create: %v", resp)
	}
	firstID := resp["group_id"].(float64)

	resp = c.request(map[string]any{"type": "create_group", "name": "Room2"}, "create_group_response")
	if resp["status"] != "fail" || resp["msg"] != "already_in_group" {
		t.Fatalf("second create: %v", resp)
	}
	if resp["current_group_id"].(float64) != firstID {
		t.Fatalf("hint group: %v", resp)
	}

	resp = c.request(map[string]any{"type": "leave_group", "group_id": firstID}, "leave_group_response")
	if resp["status"] != "success" || resp["msg"] != "Group disbanded" {
		t.Fatalf("leave: %v", resp)
	}

	resp = c.request(map[string]any{"type": "create_group", "name": "Room2"}, "create_group_response")
	if resp["status"] != "success" {
		t.Fatalf("create after leave: %v", resp)
	}
}

func TestPasswordGatedJoin(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	owner := dialClient(t, addr)
	peer := dialClient(t, addr)
	owner.registerAndLogin("owner")
	peer.registerAndLogin("peer")

	resp := owner.request(map[string]any{"type": "create_group", "name": "Gated", "password": "x"}, "create_group_response")
	if resp["status"] != "success" {
		t.Fatalf("create: %v", resp)
	}
	groupID := resp["group_id"].(float64)

	resp = peer.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")
	if resp["status"] != "fail" || resp["msg"] != "incorrect_password" || resp["need_password"] != true {
		t.Fatalf("join without password: %v", resp)
	}
	resp = peer.request(map[string]any{"type": "join_group", "group_id": groupID, "password": "x"}, "join_group_response")
	if resp["status"] != "success" {
		t.Fatalf("join with password: %v", resp)
	}
	// Idempotent re-join.
	resp = peer.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")
	if resp["status"] != "success" {
		t.Fatalf("re-join: %v", resp)
	}
}

func TestSprintScoringOverWire(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	owner := dialClient(t, addr)
	member := dialClient(t, addr)
	owner.registerAndLogin("owner")
	memberID := member.registerAndLogin("member")

	resp := owner.request(map[string]any{"type": "create_group", "name": "Race"}, "create_group_response")
	groupID := resp["group_id"].(float64)
	resp = member.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")
	if resp["status"] != "success" {
		t.Fatalf("join: %v", resp)
	}

	// Non-owner cannot control the sprint.
	resp = member.request(map[string]any{"type": "sprint_control", "group_id": groupID, "action": "start", "target": 100}, "sprint_control_response")
	if resp["status"] != "fail" {
		t.Fatalf("non-owner start: %v", resp)
	}

	resp = owner.request(map[string]any{"type": "sprint_control", "group_id": groupID, "action": "start", "target": 500}, "sprint_control_response")
	if resp["status"] != "success" {
		t.Fatalf("start: %v", resp)
	}

	push := member.recvType("group_msg_push")
	if push["sender"] != "SYSTEM" {
		t.Fatalf("system announcement: %v", push)
	}
	member.recvType("sprint_status_push")

	resp = member.request(map[string]any{"type": "sync_data", "increment": 120}, "sync_response")
	if resp["status"] != "ok" {
		t.Fatalf("sync: %v", resp)
	}

	detail := owner.request(map[string]any{"type": "get_group_detail", "group_id": groupID}, "group_detail_response")
	if detail["sprint_active"] != true {
		t.Fatalf("detail: %v", detail)
	}
	entry := leaderboardEntry(t, detail, memberID)
	if entry["word_count"].(float64) != 120 || entry["reached_target"] != false {
		t.Fatalf("leaderboard entry: %v", entry)
	}

	member.request(map[string]any{"type": "sync_data", "increment": 400}, "sync_response")
	detail = owner.request(map[string]any{"type": "get_group_detail", "group_id": groupID}, "group_detail_response")
	entry = leaderboardEntry(t, detail, memberID)
	if entry["word_count"].(float64) != 520 || entry["reached_target"] != true {
		t.Fatalf("leaderboard after target: %v", entry)
	}

	// Stop keeps the final scores visible.
	resp = owner.request(map[string]any{"type": "sprint_control", "group_id": groupID, "action": "stop"}, "sprint_control_response")
	if resp["status"] != "success" {
		t.Fatalf("stop: %v", resp)
	}
	detail = owner.request(map[string]any{"type": "get_group_detail", "group_id": groupID}, "group_detail_response")
	if detail["sprint_active"] != false {
		t.Fatalf("detail after stop: %v", detail)
	}
	entry = leaderboardEntry(t, detail, memberID)
	if entry["word_count"].(float64) != 520 {
		t.Fatalf("final score lost: %v", entry)
	}
}

func leaderboardEntry(t *testing.T, detail map[string]any, userID int64) map[string]any {
	t.Helper()
	for _, e := range detail["leaderboard"].([]any) {
		m := e.(map[string]any)
		if m["user_id"].(float64) == float64(userID) {
			return m
		}
	}
	t.Fatalf("user %d not on leaderboard: %v", userID, detail["leaderboard"])
	return nil
}

func TestGroupChatFanout(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	owner := dialClient(t, addr)
	peer := dialClient(t, addr)
	owner.registerAndLogin("owner")
	peer.registerAndLogin("peer")

	resp := owner.request(map[string]any{"type": "create_group", "name": "Chatty"}, "create_group_response")
	groupID := resp["group_id"].(float64)
	peer.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")

	resp = owner.request(map[string]any{"type": "group_chat", "group_id": groupID, "content": "hello"}, "group_chat_response")
	if resp["status"] != "success" {
		t.Fatalf("chat: %v", resp)
	}

	// Both the peer and the sender receive the committed message.
	push := peer.recvType("group_msg_push")
	if push["sender"] != "owner" || push["content"] != "hello" {
		t.Fatalf("peer push: %v", push)
	}
	push = owner.recvType("group_msg_push")
	if push["content"] != "hello" {
		t.Fatalf("sender push: %v", push)
	}

	// Outsiders cannot post.
	outsider := dialClient(t, addr)
	outsider.registerAndLogin("outsider")
	resp = outsider.request(map[string]any{"type": "group_chat", "group_id": groupID, "content": "intruding"}, "group_chat_response")
	if resp["status"] != "fail" {
		t.Fatalf("outsider chat: %v", resp)
	}

	// History replays through the detail view.
	detail := peer.request(map[string]any{"type": "get_group_detail", "group_id": groupID}, "group_detail_response")
	history := detail["chat_history"].([]any)
	if len(history) != 1 || history[0].(map[string]any)["content"] != "hello" {
		t.Fatalf("history: %v", history)
	}
}

func TestOwnerDisbandOverWire(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	owner := dialClient(t, addr)
	peerA := dialClient(t, addr)
	peerB := dialClient(t, addr)
	owner.registerAndLogin("owner")
	peerA.registerAndLogin("peera")
	peerB.registerAndLogin("peerb")

	resp := owner.request(map[string]any{"type": "create_group", "name": "Doomed"}, "create_group_response")
	groupID := resp["group_id"].(float64)
	peerA.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")
	peerB.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")

	resp = owner.request(map[string]any{"type": "leave_group", "group_id": groupID}, "leave_group_response")
	if resp["status"] != "success" {
		t.Fatalf("owner leave: %v", resp)
	}

	for _, peer := range []*testClient{peerA, peerB} {
		push := peer.recvType("group_disbanded")
		if push["group_id"].(float64) != groupID {
			t.Fatalf("disband push: %v", push)
		}
	}

	detail := peerA.request(map[string]any{"type": "get_group_detail", "group_id": groupID}, "group_detail_response")
	if detail["status"] != "fail" {
		t.Fatalf("detail after disband: %v", detail)
	}
	lobby := peerA.request(map[string]any{"type": "get_public_groups"}, "group_list_response")
	if n := len(lobby["data"].([]any)); n != 0 {
		t.Fatalf("lobby still lists %d rooms", n)
	}
}

func TestDoubleLoginReplacesSession(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	first := dialClient(t, addr)
	first.registerAndLogin("alice")

	second := dialClient(t, addr)
	resp := second.request(map[string]any{"type": "login", "username": "alice", "password": "H-alice"}, "login_response")
	if resp["status"] != "success" {
		t.Fatalf("second login: %v", resp)
	}

	// The first socket is closed by the replacement; its next read fails.
	_ = first.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := secure.ReadFrame(first.conn); err == nil {
		t.Fatal("replaced session should be closed")
	}

	// The second session still works.
	resp = second.request(map[string]any{"type": "get_friends"}, "get_friends_response")
	if resp["status"] != "success" {
		t.Fatalf("second session broken: %v", resp)
	}
}

func TestGroupFullOverWire(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	owner := dialClient(t, addr)
	owner.registerAndLogin("owner")
	resp := owner.request(map[string]any{"type": "create_group", "name": "Crowded"}, "create_group_response")
	groupID := resp["group_id"].(float64)

	for i := 0; i < store.MaxGroupMembers-1; i++ {
		c := dialClient(t, addr)
		c.registerAndLogin(fmt.Sprintf("member%02d", i))
		resp := c.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")
		if resp["status"] != "success" {
			t.Fatalf("join %d: %v", i, resp)
		}
	}

	extra := dialClient(t, addr)
	extra.registerAndLogin("extra")
	resp = extra.request(map[string]any{"type": "join_group", "group_id": groupID}, "join_group_response")
	if resp["status"] != "fail" || resp["msg"] != "group_full" {
		t.Fatalf("11th join: %v", resp)
	}
}

func TestInternalFailureStillAnswersRequest(t *testing.T) {
	t.Parallel()
	addr, _, st := startServerFull(t)

	c := dialClient(t, addr)
	c.registerAndLogin("alice")

	// Every store-backed request must still produce its paired response
	// frame when the backend fails, and the connection must survive.
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	resp := c.request(map[string]any{"type": "sync_data", "increment": 10}, "sync_response")
	if resp["status"] != "error" {
		t.Fatalf("sync against dead store: %v", resp)
	}
	resp = c.request(map[string]any{"type": "get_analytics"}, "analytics_data")
	if resp["status"] != "error" {
		t.Fatalf("analytics against dead store: %v", resp)
	}
	resp = c.request(map[string]any{"type": "get_friends"}, "get_friends_response")
	if resp["status"] != "error" {
		t.Fatalf("friends against dead store: %v", resp)
	}
	resp = c.request(map[string]any{"type": "get_group_detail", "group_id": 1}, "group_detail_response")
	if resp["status"] != "error" {
		t.Fatalf("detail against dead store: %v", resp)
	}
	resp = c.request(map[string]any{"type": "group_chat", "group_id": 1, "content": "hi"}, "group_chat_response")
	if resp["status"] != "fail" {
		t.Fatalf("chat against dead store: %v", resp)
	}
	resp = c.request(map[string]any{"type": "create_group", "name": "Doomed"}, "create_group_response")
	if resp["status"] != "error" {
		t.Fatalf("create against dead store: %v", resp)
	}

	// The session itself is still healthy.
	resp = c.request(map[string]any{"type": "no_such_thing"}, "response")
	if resp["status"] != "ok" {
		t.Fatalf("connection did not survive: %v", resp)
	}
}

func TestProfileEmailConflictSkipsAvatar(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	a := dialClient(t, addr)
	resp := a.request(map[string]any{"type": "register", "username": "alice", "password": "H1", "email": "alice@example.com"}, "register_response")
	if resp["status"] != "success" {
		t.Fatalf("register alice: %v", resp)
	}

	bob := dialClient(t, addr)
	bob.registerAndLogin("bob")

	avatar := base64.StdEncoding.EncodeToString([]byte("bob-avatar-bytes"))
	resp = bob.request(map[string]any{"type": "update_profile", "email": "alice@example.com", "avatar_data": avatar}, "profile_updated")
	if resp["status"] != "fail" || resp["msg"] != "email already in use" {
		t.Fatalf("conflicting update: %v", resp)
	}

	// The rejected update must not have stored the avatar.
	check := dialClient(t, addr)
	resp = check.request(map[string]any{"type": "login", "username": "bob", "password": "H-bob"}, "login_response")
	if resp["status"] != "success" {
		t.Fatalf("re-login: %v", resp)
	}
	if got, _ := resp["avatar_data"].(string); got != "" {
		t.Fatalf("avatar stored despite rejected update: %q", got)
	}

	resp = check.request(map[string]any{"type": "update_profile", "avatar_data": avatar}, "profile_updated")
	if resp["status"] != "success" {
		t.Fatalf("avatar-only update: %v", resp)
	}
	final := dialClient(t, addr)
	resp = final.request(map[string]any{"type": "login", "username": "bob", "password": "H-bob"}, "login_response")
	if resp["avatar_data"] != avatar {
		t.Fatalf("avatar lost after valid update: %v", resp["avatar_data"])
	}
}
