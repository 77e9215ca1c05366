// Package activity models the narrow slice of the channel activity schema
// the bot actually consumes. Channels attach many more fields; decoding is
// deliberately lenient and validation only checks what the router relies on.
package activity

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

type Type string

const (
	TypeMessage            Type = "message"
	TypeConversationUpdate Type = "conversationUpdate"
	TypeEvent              Type = "event"
	TypeInvoke             Type = "invoke"
	TypeInvokeResponse     Type = "invokeResponse"
	TypeTyping             Type = "typing"
)

// EventTokenResponse is the event name delivered when a user completes the
// OAuth sign-in flow.
const EventTokenResponse = "tokens/response"

type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

type ConversationAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	IsGroup  bool   `json:"isGroup,omitempty"`
}

type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content,omitempty"`
}

type Entity map[string]any

type Activity struct {
	Type         Type                `json:"type"`
	ID           string              `json:"id,omitempty"`
	Name         string              `json:"name,omitempty"`
	Text         string              `json:"text,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Conversation ConversationAccount `json:"conversation"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	MembersAdded []ChannelAccount    `json:"membersAdded,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	Entities     []Entity            `json:"entities,omitempty"`
	Value        json.RawMessage     `json:"value,omitempty"`
	ChannelData  map[string]any      `json:"channelData,omitempty"`
	// Pointer so unset timestamps are omitted; omitempty never skips a
	// zero time.Time.
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	LocaleName string     `json:"locale,omitempty"`
}

// Decode reads one inbound activity. Unknown fields are ignored on purpose;
// channels decorate activities freely.
func Decode(r io.Reader) (Activity, error) {
	var a Activity
	dec := json.NewDecoder(r)
	if err := dec.Decode(&a); err != nil {
		return Activity{}, fmt.Errorf("invalid activity json: %w", err)
	}
	if err := a.Validate(); err != nil {
		return Activity{}, err
	}
	return a, nil
}

func (a Activity) Validate() error {
	if strings.TrimSpace(string(a.Type)) == "" {
		return fmt.Errorf("type is required")
	}
	switch a.Type {
	case TypeMessage, TypeConversationUpdate, TypeEvent, TypeInvoke, TypeInvokeResponse, TypeTyping:
	default:
		return fmt.Errorf("type is invalid: %q", a.Type)
	}
	if a.Type == TypeInvokeResponse {
		return nil
	}
	if err := requiredCanonicalString("conversation.id", a.Conversation.ID); err != nil {
		return err
	}
	if a.Type == TypeMessage || a.Type == TypeEvent || a.Type == TypeInvoke {
		if err := requiredCanonicalString("from.id", a.From.ID); err != nil {
			return err
		}
	}
	return nil
}

// TenantID returns the tenant carried by the conversation, empty on channels
// that do not convey one.
func (a Activity) TenantID() string {
	return strings.TrimSpace(a.Conversation.TenantID)
}

// Reply builds an outbound activity addressed back at the sender of a,
// swapping from/recipient the way connector replies expect.
func (a Activity) Reply(typ Type, text string) Activity {
	return Activity{
		Type:         typ,
		Text:         text,
		ChannelID:    a.ChannelID,
		ServiceURL:   a.ServiceURL,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		ReplyToID:    a.ID,
		LocaleName:   a.LocaleName,
	}
}

// NewInvokeResponse is the minimal acknowledgement the channel expects for
// invoke activities.
func NewInvokeResponse(status int) Activity {
	raw, _ := json.Marshal(map[string]int{"status": status})
	return Activity{
		Type:  TypeInvokeResponse,
		Value: raw,
	}
}

func requiredCanonicalString(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s must not contain leading/trailing spaces", field)
	}
	return nil
}
