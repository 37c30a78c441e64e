package gateway

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// ChannelSource answers the channel questions the inbound router needs for typing authorization. Implemented by the
// channel repository.
type ChannelSource interface {
	GuildOf(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error)
	IsMember(ctx context.Context, channelID, userID snowflake.ID) (bool, error)
}

// TypingDeduper suppresses repeated typing signals within a short window. Implemented by the presence store.
type TypingDeduper interface {
	SetTyping(ctx context.Context, channelID, userID snowflake.ID) (bool, error)
}

// InboundRouter is the dispatcher's inbound-message handler: it consumes client messages drained from each user's
// fan-in and turns them into dispatches or close requests. Heartbeats are handled by the per-session heartbeat
// monitor, not here.
type InboundRouter struct {
	dispatcher *Dispatcher
	channels   ChannelSource
	typing     TypingDeduper
	log        zerolog.Logger
}

// NewInboundRouter creates the inbound-message handler.
func NewInboundRouter(d *Dispatcher, channels ChannelSource, typing TypingDeduper, logger zerolog.Logger) *InboundRouter {
	return &InboundRouter{
		dispatcher: d,
		channels:   channels,
		typing:     typing,
		log:        logger.With().Str("component", "inbound").Logger(),
	}
}

// HandleInbound processes one tagged client message.
func (r *InboundRouter) HandleInbound(ctx context.Context, conn ConnectionID, msg *event.ClientMessage) {
	switch msg.Type {
	case event.TypeHeartbeat:
		// Acked by the heartbeat monitor.
	case event.TypeIdentify:
		r.dispatcher.CloseSession(conn, ClosePolicyViolation, ReasonAlreadyIdentified)
	case event.TypeStartTyping:
		data, ok := msg.Data.(*event.StartTypingData)
		if !ok {
			return
		}
		r.startTyping(ctx, conn, data.ChannelID)
	}
}

// startTyping authorizes the typing signal against the channel's guild membership, dedupes it, and dispatches
// TYPING_START to the guild. Unauthorized or failing signals are dropped silently; typing is best-effort.
func (r *InboundRouter) startTyping(ctx context.Context, conn ConnectionID, channelID snowflake.ID) {
	guildID, err := r.channels.GuildOf(ctx, channelID)
	if err != nil {
		r.log.Debug().Err(err).Stringer("channel_id", channelID).Msg("Typing for unknown channel")
		return
	}

	member, err := r.channels.IsMember(ctx, channelID, conn.UserID)
	if err != nil {
		r.log.Warn().Err(err).Stringer("conn", conn).Msg("Typing authorization failed")
		return
	}
	if !member {
		return
	}

	created, err := r.typing.SetTyping(ctx, channelID, conn.UserID)
	if err != nil {
		r.log.Warn().Err(err).Stringer("conn", conn).Msg("Typing dedup failed")
		return
	}
	if !created {
		return
	}

	r.dispatcher.Dispatch(event.New(event.TypeTypingStart, &event.TypingStartData{
		UserID:    conn.UserID,
		ChannelID: channelID,
	}), ToGuild(guildID))
}
