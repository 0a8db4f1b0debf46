package slack

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageEvent is a channel or DM message relayed by slack-forwarder over NATS.
type MessageEvent struct {
	Text         string
	UserID       string
	UserName     string
	Channel      string
	ChannelType  string
	MessageTS    string
	ThreadTS     string
	ParentUserID string
	BotID        string
	Subtype      string
}

// ParseMessageEvent decodes the slack-forwarder payload, which carries the event fields in a metadata wrapper.
func ParseMessageEvent(data []byte) (*MessageEvent, error) {
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse message wrapper: %w", err)
	}
	if wrapper.Metadata == nil {
		return nil, errors.New("message wrapper has no metadata")
	}

	md := wrapper.Metadata
	evt := &MessageEvent{
		Text:         md["text"],
		UserID:       md["user_id"],
		UserName:     md["user_name"],
		Channel:      md["channel_id"],
		ChannelType:  md["channel_type"],
		MessageTS:    md["message_ts"],
		ThreadTS:     md["thread_ts"],
		ParentUserID: md["parent_user_id"],
		BotID:        md["bot_id"],
		Subtype:      md["subtype"],
	}
	if evt.Channel == "" || evt.MessageTS == "" {
		return nil, errors.New("message event without channel or ts")
	}
	return evt, nil
}
