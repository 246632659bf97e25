// Package protocol defines the JSON messages exchanged over the framed
// session transport. Every frame body is one JSON object carrying a "type"
// discriminator; requests share a single envelope struct, responses and
// pushes are typed per message.
package protocol

// Request types accepted from clients.
const (
	TypeRegister          = "register"
	TypeLogin             = "login"
	TypeSendCode          = "send_code"
	TypeResetPassword     = "reset_password"
	TypeUpdateProfile     = "update_profile"
	TypeSyncData          = "sync_data"
	TypeGetAnalytics      = "get_analytics"
	TypeGetDetails        = "get_details"
	TypeSearchUser        = "search_user"
	TypeAddFriend         = "add_friend"
	TypeDeleteFriend      = "delete_friend"
	TypeGetFriendRequests = "get_friend_requests"
	TypeRespondFriend     = "respond_friend"
	TypeGetFriends        = "get_friends"
	TypeCreateGroup       = "create_group"
	TypeGetPublicGroups   = "get_public_groups"
	TypeJoinGroup         = "join_group"
	TypeLeaveGroup        = "leave_group"
	TypeGroupChat         = "group_chat"
	TypeGetGroupDetail    = "get_group_detail"
	TypeSprintControl     = "sprint_control"
)

// Response and push types sent to clients.
const (
	TypeRegisterResponse       = "register_response"
	TypeLoginResponse          = "login_response"
	TypeCodeResponse           = "code_response"
	TypeResetResponse          = "reset_response"
	TypeProfileUpdated         = "profile_updated"
	TypeSyncResponse           = "sync_response"
	TypeAnalyticsData          = "analytics_data"
	TypeDetailsData            = "details_data"
	TypeSearchUserResponse     = "search_user_response"
	TypeAddFriendResponse      = "add_friend_response"
	TypeDeleteFriendResponse   = "delete_friend_response"
	TypeFriendRequestsResponse = "friend_requests_response"
	TypeRespondFriendResponse  = "respond_friend_response"
	TypeGetFriendsResponse     = "get_friends_response"
	TypeCreateGroupResponse    = "create_group_response"
	TypeGroupListResponse      = "group_list_response"
	TypeJoinGroupResponse      = "join_group_response"
	TypeLeaveGroupResponse     = "leave_group_response"
	TypeGroupChatResponse      = "group_chat_response"
	TypeGroupDetailResponse    = "group_detail_response"
	TypeSprintControlResponse  = "sprint_control_response"
	TypeGenericResponse        = "response"

	TypeRefreshFriends        = "refresh_friends"
	TypeRefreshFriendRequests = "refresh_friend_requests"
	TypeRefreshGroups         = "refresh_groups"
	TypeGroupMsgPush          = "group_msg_push"
	TypeSprintStatusPush      = "sprint_status_push"
	TypeGroupDisbanded        = "group_disbanded"
)

// Status values carried in responses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
	StatusOK      = "ok"
)

// Sprint control actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Friend request actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Request is the inbound envelope. Fields are shared across request types;
// which ones are meaningful depends on Type.
type Request struct {
	Type string `json:"type"`

	// register / login / send_code / reset_password
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"` // client-side SHA-256 hex; also room password on join/create
	Email       string `json:"email,omitempty"`
	Code        string `json:"code,omitempty"`
	NewPassword string `json:"new_password,omitempty"`

	// update_profile
	Nickname   string `json:"nickname,omitempty"`
	Signature  string `json:"signature,omitempty"`
	AvatarData string `json:"avatar_data,omitempty"` // base64 PNG

	// sync_data
	Increment int    `json:"increment,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`  // Unix seconds, client clock
	LocalDate string `json:"local_date,omitempty"` // ISO-8601 day for binning
	Source    string `json:"source,omitempty"`     // "local" or "web"

	// friend graph
	Query     string `json:"query,omitempty"`
	FriendID  int64  `json:"friend_id,omitempty"`
	RequestID int64  `json:"request_id,omitempty"`
	Action    string `json:"action,omitempty"` // respond_friend + sprint_control

	// rooms
	Name      string `json:"name,omitempty"`
	IsPrivate bool   `json:"is_private,omitempty"`
	GroupID   int64  `json:"group_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Target    int    `json:"target,omitempty"` // sprint word target
}

// Response is the common ack shape. Hint fields are populated for the
// conflicts that carry them (already_in_group, incorrect_password).
type Response struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	Msg            string `json:"msg,omitempty"`
	CurrentGroupID int64  `json:"current_group_id,omitempty"`
	NeedPassword   bool   `json:"need_password,omitempty"`
}

// CurrentGroup is the room membership echoed back at login.
type CurrentGroup struct {
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
}

// LoginResponse is the payload for a successful (or failed) login.
type LoginResponse struct {
	Type         string        `json:"type"`
	Status       string        `json:"status"`
	Msg          string        `json:"msg,omitempty"`
	UserID       int64         `json:"user_id,omitempty"`
	Username     string        `json:"username,omitempty"`
	Nickname     string        `json:"nickname,omitempty"`
	Email        string        `json:"email,omitempty"`
	AvatarData   string        `json:"avatar_data,omitempty"`
	Signature    string        `json:"signature,omitempty"`
	TodayTotal   int           `json:"today_total"`
	CurrentGroup *CurrentGroup `json:"current_group,omitempty"`
}

// AnalyticsData maps ISO dates to daily word totals for the past year.
type AnalyticsData struct {
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Heatmap map[string]int `json:"heatmap"`
}

// DetailEntry is one row of the recent-activity view.
type DetailEntry struct {
	Time      string `json:"time"`
	Increment int    `json:"increment"`
	Duration  int    `json:"duration"`
}

// DetailsData carries the caller's most recent detail records.
type DetailsData struct {
	Type   string        `json:"type"`
	Status string        `json:"status"`
	Data   []DetailEntry `json:"data"`
}

// UserSummary is the public projection of a user returned by search.
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

// SearchUserResponse returns the unique exact match for a query.
type SearchUserResponse struct {
	Type   string       `json:"type"`
	Status string       `json:"status"`
	Msg    string       `json:"msg,omitempty"`
	Data   *UserSummary `json:"data,omitempty"`
}

// FriendRequestEntry is one incoming friend request with sender profile.
type FriendRequestEntry struct {
	RequestID int64  `json:"request_id"`
	SenderID  int64  `json:"sender_id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
}

// FriendRequestsResponse lists the caller's incoming requests.
type FriendRequestsResponse struct {
	Type   string               `json:"type"`
	Status string               `json:"status"`
	Data   []FriendRequestEntry `json:"data"`
}

// FriendEntry is one friend annotated with live presence.
type FriendEntry struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Nickname   string `json:"nickname"`
	Signature  string `json:"signature,omitempty"`
	Status     string `json:"status"` // "Online" or "Offline"
	AvatarData string `json:"avatar_data,omitempty"`
}

// GetFriendsResponse lists the caller's friends.
type GetFriendsResponse struct {
	Type   string        `json:"type"`
	Status string        `json:"status"`
	Data   []FriendEntry `json:"data"`
}

// LobbyGroup is one row of the public room listing.
type LobbyGroup struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	OwnerNickname string `json:"owner_nickname"`
	MemberCount   int    `json:"member_count"`
	HasPassword   bool   `json:"has_password"`
	SprintActive  bool   `json:"sprint_active"`
	IsPrivate     bool   `json:"is_private"`
	UpdatedAt     string `json:"updated_at"`
}

// GroupListResponse is the lobby listing.
type GroupListResponse struct {
	Type   string       `json:"type"`
	Status string       `json:"status"`
	Data   []LobbyGroup `json:"data"`
}

// CreateGroupResponse acknowledges room creation.
type CreateGroupResponse struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	Msg            string `json:"msg,omitempty"`
	GroupID        int64  `json:"group_id,omitempty"`
	GroupName      string `json:"group_name,omitempty"`
	CurrentGroupID int64  `json:"current_group_id,omitempty"`
}

// JoinGroupResponse acknowledges a join attempt.
type JoinGroupResponse struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	Msg            string `json:"msg,omitempty"`
	GroupID        int64  `json:"group_id,omitempty"`
	CurrentGroupID int64  `json:"current_group_id,omitempty"`
	NeedPassword   bool   `json:"need_password,omitempty"`
}

// ChatMessage is one rendered chat line in a room history.
type ChatMessage struct {
	Time    string `json:"time"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// LeaderboardEntry is one row of a room's sprint leaderboard.
type LeaderboardEntry struct {
	UserID        int64  `json:"user_id"`
	Nickname      string `json:"nickname"`
	WordCount     int    `json:"word_count"`
	IsOnline      bool   `json:"is_online"`
	AvatarData    string `json:"avatar_data,omitempty"`
	ReachedTarget bool   `json:"reached_target"`
}

// GroupDetailResponse is the full room view: chat history + leaderboard.
type GroupDetailResponse struct {
	Type         string             `json:"type"`
	Status       string             `json:"status"`
	Msg          string             `json:"msg,omitempty"`
	GroupID      int64              `json:"group_id,omitempty"`
	Name         string             `json:"name,omitempty"`
	OwnerID      int64              `json:"owner_id,omitempty"`
	OwnerAvatar  string             `json:"owner_avatar,omitempty"`
	SprintActive bool               `json:"sprint_active"`
	SprintTarget int                `json:"sprint_target"`
	ChatHistory  []ChatMessage      `json:"chat_history"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
}

// GroupMsgPush fans a committed chat message out to room members.
type GroupMsgPush struct {
	Type    string `json:"type"`
	GroupID int64  `json:"group_id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Time    string `json:"time"`
}

// SprintStatusPush tells members to re-fetch the room detail.
type SprintStatusPush struct {
	Type    string `json:"type"`
	GroupID int64  `json:"group_id"`
}

// GroupDisbanded tells former members their room no longer exists.
type GroupDisbanded struct {
	Type    string `json:"type"`
	GroupID int64  `json:"group_id"`
}

// Push builds a bare type-only push (the refresh_* family).
func Push(typ string) Response {
	return Response{Type: typ, Status: StatusOK}
}
