// Package chat is the messaging domain: rooms, channels, messages and
// reactions. It is an ordinary dispatch module; the engine knows nothing
// about it.
package chat

import (
	"cmp"
	"slices"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/schema"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

// View collections owned by this module.
const (
	Rooms     = "room"
	Channels  = "channel"
	Messages  = "message"
	Reactions = "reaction"
)

const (
	createRoomSchema = `#Payload: {
	id:   string & != ""
	name: string & != ""
}`

	renameRoomSchema = createRoomSchema

	createChannelSchema = `#Payload: {
	name:  string & != ""
	room?: string & != ""
}`

	postMessageSchema = `#Payload: {
	id:      string & != ""
	channel: string & != ""
	text:    string & != ""
}`

	reactSchema = `#Payload: {
	message: string & != ""
	emoji:   string & != ""
}`
)

// Module registers the chat commands.
type Module struct{}

// Commands implements dispatch.Module.
func (Module) Commands() []dispatch.Command {
	return []dispatch.Command{
		{Type: ir.CmdCreateRoom, Schema: schema.MustCompile(ir.CmdCreateRoom.String(), createRoomSchema), Handle: createRoom},
		{Type: ir.CmdRenameRoom, Schema: schema.MustCompile(ir.CmdRenameRoom.String(), renameRoomSchema), Handle: renameRoom},
		{Type: ir.CmdCreateChannel, Schema: schema.MustCompile(ir.CmdCreateChannel.String(), createChannelSchema), Handle: createChannel},
		{Type: ir.CmdPostMessage, Schema: schema.MustCompile(ir.CmdPostMessage.String(), postMessageSchema), Handle: postMessage},
		{Type: ir.CmdReact, Schema: schema.MustCompile(ir.CmdReact.String(), reactSchema), Handle: react},
	}
}

func createRoom(in dispatch.Input, tx *view.Tx) error {
	id, _ := in.Payload.Str("id")
	if _, exists := tx.Get(Rooms, id); exists {
		return ir.Validationf("create-room: %q exists", id)
	}
	return tx.Put(Rooms, id, ir.Doc{
		"id":         ir.Str(id),
		"name":       in.Payload["name"],
		"created_by": ir.Str(in.Entry.Writer),
		"position":   ir.Int(in.Position),
	})
}

func renameRoom(in dispatch.Input, tx *view.Tx) error {
	id, _ := in.Payload.Str("id")
	doc, ok := tx.Get(Rooms, id)
	if !ok {
		return ir.Validationf("rename-room: %q does not exist", id)
	}
	doc["name"] = in.Payload["name"]
	doc["renamed_by"] = ir.Str(in.Entry.Writer)
	return tx.Put(Rooms, id, doc)
}

func createChannel(in dispatch.Input, tx *view.Tx) error {
	name, _ := in.Payload.Str("name")
	if _, exists := tx.Get(Channels, name); exists {
		return ir.Validationf("create-channel: %q exists", name)
	}
	doc := ir.Doc{
		"name":       ir.Str(name),
		"created_by": ir.Str(in.Entry.Writer),
		"position":   ir.Int(in.Position),
	}
	if room, ok := in.Payload.Str("room"); ok {
		if _, exists := tx.Get(Rooms, room); !exists {
			return ir.Validationf("create-channel: room %q does not exist", room)
		}
		doc["room"] = ir.Str(room)
	}
	return tx.Put(Channels, name, doc)
}

func postMessage(in dispatch.Input, tx *view.Tx) error {
	id, _ := in.Payload.Str("id")
	channel, _ := in.Payload.Str("channel")
	if _, ok := tx.Get(Channels, channel); !ok {
		return ir.Validationf("post-message: channel %q does not exist", channel)
	}
	if _, exists := tx.Get(Messages, id); exists {
		return ir.Validationf("post-message: %q exists", id)
	}
	return tx.Put(Messages, id, ir.Doc{
		"id":       ir.Str(id),
		"channel":  ir.Str(channel),
		"text":     in.Payload["text"],
		"author":   ir.Str(in.Entry.Writer),
		"position": ir.Int(in.Position),
	})
}

// react is idempotent per (message, writer, emoji).
func react(in dispatch.Input, tx *view.Tx) error {
	message, _ := in.Payload.Str("message")
	emoji, _ := in.Payload.Str("emoji")
	if _, ok := tx.Get(Messages, message); !ok {
		return ir.Validationf("react: message %q does not exist", message)
	}
	id := message + "/" + string(in.Entry.Writer) + "/" + emoji
	if _, exists := tx.Get(Reactions, id); exists {
		return nil
	}
	return tx.Put(Reactions, id, ir.Doc{
		"message": ir.Str(message),
		"emoji":   ir.Str(emoji),
		"by":      ir.Str(in.Entry.Writer),
	})
}

// Payload builders for callers that append chat commands.

func CreateRoom(id, name string) ir.Doc {
	return ir.Doc{"id": ir.Str(id), "name": ir.Str(name)}
}

func RenameRoom(id, name string) ir.Doc {
	return ir.Doc{"id": ir.Str(id), "name": ir.Str(name)}
}

func CreateChannel(name string) ir.Doc {
	return ir.Doc{"name": ir.Str(name)}
}

func CreateChannelIn(room, name string) ir.Doc {
	return ir.Doc{"name": ir.Str(name), "room": ir.Str(room)}
}

func PostMessage(id, channel, text string) ir.Doc {
	return ir.Doc{"id": ir.Str(id), "channel": ir.Str(channel), "text": ir.Str(text)}
}

func React(message, emoji string) ir.Doc {
	return ir.Doc{"message": ir.Str(message), "emoji": ir.Str(emoji)}
}

// ChannelsInOrder returns channel names in replay order.
func ChannelsInOrder(r writerset.Reader) []string {
	recs := r.Query(Channels, view.All())
	slices.SortFunc(recs, func(a, b view.Record) int {
		pa, _ := a.Doc.Int("position")
		pb, _ := b.Doc.Int("position")
		return cmp.Compare(pa, pb)
	})
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.ID
	}
	return out
}
