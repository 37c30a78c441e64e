package event

import (
	"time"

	"github.com/parley-chat/parley-server/internal/presence"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// User is the wire representation of a user.
type User struct {
	ID          snowflake.ID `json:"id"`
	Username    string       `json:"username"`
	DisplayName *string      `json:"display_name"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Guild is the wire representation of a guild.
type Guild struct {
	ID        snowflake.ID `json:"id"`
	Name      string       `json:"name"`
	OwnerID   snowflake.ID `json:"owner_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// Channel is the wire representation of a channel.
type Channel struct {
	ID      snowflake.ID `json:"id"`
	GuildID snowflake.ID `json:"guild_id"`
	Name    string       `json:"name"`
	Topic   *string      `json:"topic"`
}

// Member is the wire representation of a guild membership.
type Member struct {
	UserID      snowflake.ID `json:"user_id"`
	GuildID     snowflake.ID `json:"guild_id"`
	Username    string       `json:"username"`
	DisplayName *string      `json:"display_name"`
	Nickname    *string      `json:"nickname"`
	JoinedAt    time.Time    `json:"joined_at"`
}

// Message is the wire representation of a chat message.
type Message struct {
	ID        snowflake.ID `json:"id"`
	ChannelID snowflake.ID `json:"channel_id"`
	GuildID   snowflake.ID `json:"guild_id"`
	AuthorID  snowflake.ID `json:"author_id"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
	EditedAt  *time.Time   `json:"edited_at"`
}

// ReadState is the wire representation of one channel's read marker for a user.
type ReadState struct {
	ChannelID         snowflake.ID `json:"channel_id"`
	LastReadMessageID snowflake.ID `json:"last_read_message_id,omitzero"`
	LastMessageID     snowflake.ID `json:"last_message_id,omitzero"`
}

// HelloData carries the heartbeat interval the client must honour.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// ReadyData is the onboarding snapshot sent after a successful identify.
type ReadyData struct {
	User       User         `json:"user"`
	SessionID  string       `json:"session_id"`
	Guilds     []Guild      `json:"guilds"`
	ReadStates []ReadState  `json:"read_states"`
}

// GuildCreateData carries a full guild aggregate: the guild, its members, and its channels.
type GuildCreateData struct {
	Guild    Guild     `json:"guild"`
	Members  []Member  `json:"members"`
	Channels []Channel `json:"channels"`
}

// GuildRemoveData names a guild that is no longer visible to the recipient.
type GuildRemoveData struct {
	GuildID snowflake.ID `json:"guild_id"`
}

// ChannelRemoveData names a deleted channel.
type ChannelRemoveData struct {
	ChannelID snowflake.ID `json:"channel_id"`
	GuildID   snowflake.ID `json:"guild_id"`
}

// MemberRemoveData names a user removed from a guild.
type MemberRemoveData struct {
	UserID  snowflake.ID `json:"user_id"`
	GuildID snowflake.ID `json:"guild_id"`
}

// MessageDeleteData names a deleted message.
type MessageDeleteData struct {
	ID        snowflake.ID `json:"id"`
	ChannelID snowflake.ID `json:"channel_id"`
	GuildID   snowflake.ID `json:"guild_id"`
}

// PresenceUpdateData carries a user's new presence.
type PresenceUpdateData struct {
	UserID   snowflake.ID    `json:"user_id"`
	Presence presence.Status `json:"presence"`
}

// TypingStartData signals that a user started typing in a channel.
type TypingStartData struct {
	UserID    snowflake.ID `json:"user_id"`
	ChannelID snowflake.ID `json:"channel_id"`
}

// InvalidSessionData tells the client its session cannot continue and why.
type InvalidSessionData struct {
	Reason string `json:"reason"`
}
