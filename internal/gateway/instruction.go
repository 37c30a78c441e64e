package gateway

import (
	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// sendKind selects the addressing policy of a dispatch.
type sendKind int

const (
	sendToUser sendKind = iota
	sendToGuild
	sendToMutualGuilds
)

// SendMode is the addressing policy the event router applies to select recipients.
type SendMode struct {
	kind sendKind
	id   snowflake.ID
}

// ToUser addresses every live session of one user.
func ToUser(userID snowflake.ID) SendMode {
	return SendMode{kind: sendToUser, id: userID}
}

// ToGuild addresses every session of every user currently marked as a member of the guild.
func ToGuild(guildID snowflake.ID) SendMode {
	return SendMode{kind: sendToGuild, id: guildID}
}

// ToMutualGuilds addresses every session of every user sharing at least one guild with the named user, the named user
// included. The event is dropped entirely when the named user is not connected.
func ToMutualGuilds(userID snowflake.ID) SendMode {
	return SendMode{kind: sendToMutualGuilds, id: userID}
}

// instruction is one element of the dispatcher's serialized instruction queue.
type instruction interface {
	isInstruction()
}

type insNewSession struct {
	conn  ConnectionID
	sess  *Session
	reply chan error
}

type insRemoveSession struct {
	conn ConnectionID
	// notifyOffline requests an offline PRESENCE_UPDATE to the user's mutual guilds when this removal takes the
	// user's last session. The pipeline sets it only for non-shutdown closes of users whose stored presence is not
	// already Offline.
	notifyOffline bool
}

type insCloseSession struct {
	conn   ConnectionID
	code   CloseCode
	reason string
}

type insCloseUser struct {
	user   snowflake.ID
	code   CloseCode
	reason string
}

type insCloseAll struct {
	ack chan struct{}
}

type insDispatch struct {
	ev   *event.Event
	mode SendMode
}

type insSendToSession struct {
	conn ConnectionID
	ev   *event.Event
}

type insAddMember struct {
	user  snowflake.ID
	guild snowflake.ID
}

type insRemoveMember struct {
	user  snowflake.ID
	guild snowflake.ID
}

type insSubscribeSession struct {
	conn  ConnectionID
	reply chan *subscription[*event.ClientMessage]
}

type insSubscribeUser struct {
	user  snowflake.ID
	reply chan *subscription[InboundMessage]
}

type insQueryConnected struct {
	user  snowflake.ID
	reply chan bool
}

type insQueryConnectedMulti struct {
	users []snowflake.ID
	reply chan map[snowflake.ID]struct{}
}

func (insNewSession) isInstruction()          {}
func (insRemoveSession) isInstruction()       {}
func (insCloseSession) isInstruction()        {}
func (insCloseUser) isInstruction()           {}
func (insCloseAll) isInstruction()            {}
func (insDispatch) isInstruction()            {}
func (insSendToSession) isInstruction()       {}
func (insAddMember) isInstruction()           {}
func (insRemoveMember) isInstruction()        {}
func (insSubscribeSession) isInstruction()    {}
func (insSubscribeUser) isInstruction()       {}
func (insQueryConnected) isInstruction()      {}
func (insQueryConnectedMulti) isInstruction() {}
