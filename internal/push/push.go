// Package push sends notifications through an Expo-compatible push gateway.
// Delivery is best-effort: callers log failures and move on.
package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"go.uber.org/zap"
)

// DefaultEndpoint is the public Expo push API.
const DefaultEndpoint = expo.DefaultHost + expo.DefaultBaseAPIURL + sendPath

const (
	sendPath          = "/push/send"
	notificationSound = "default"
)

// Notification is the user-visible part of a push.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers a notification to a device token.
type Sender interface {
	Send(ctx context.Context, token string, n Notification) error
}

// Client publishes through an Expo-format gateway.
type Client struct {
	expo *expo.PushClient
	log  *zap.Logger
}

// NewClient returns a Client for endpoint, the full push/send URL. A nil hc
// gets a 10s-timeout client.
func NewClient(endpoint string, hc *http.Client, log *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	host, api := splitEndpoint(endpoint)
	return &Client{
		expo: expo.NewPushClient(&expo.ClientConfig{Host: host, APIURL: api, HTTPClient: hc}),
		log:  log,
	}
}

// splitEndpoint maps a push/send URL onto the gateway host and API base.
func splitEndpoint(endpoint string) (string, string) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return expo.DefaultHost, expo.DefaultBaseAPIURL
	}
	api := strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), sendPath)
	if api == "" {
		api = expo.DefaultBaseAPIURL
	}
	return u.Scheme + "://" + u.Host, api
}

// Send publishes n to token. An empty token is skipped without error; a
// malformed one is rejected before anything is sent.
func (c *Client) Send(ctx context.Context, token string, n Notification) error {
	if token == "" {
		c.log.Debug("push skipped, no token")
		return nil
	}
	to, err := expo.NewExponentPushToken(token)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := c.expo.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{to},
		Title:    n.Title,
		Body:     n.Body,
		Data:     n.Data,
		Sound:    notificationSound,
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if err := resp.ValidateResponse(); err != nil {
		return fmt.Errorf("push: gateway rejected: %w", err)
	}
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Send(context.Context, string, Notification) error { return nil }

// DirectMessage announces a new direct message. The body never carries
// message content.
func DirectMessage(senderID, senderName, recipientID, recipientName string, attachment bool) Notification {
	body := "New message sent to you."
	if attachment {
		body = "Attachment sent to you."
	}
	return Notification{
		Title: "New message sent to you.",
		Body:  body,
		Data: map[string]string{
			"screen":            "ChatScreen",
			"userId":            senderID,
			"userName":          senderName,
			"recipientId":       recipientID,
			"recipientUserName": recipientName,
		},
	}
}

// GroupMessage announces a new group message.
func GroupMessage(groupID, groupName, senderID string, attachment bool) Notification {
	body := "New message in " + groupName
	if attachment {
		body = "Sent an attachment in " + groupName
	}
	return Notification{
		Title: "New messages in " + groupName,
		Body:  body,
		Data: map[string]string{
			"screen":    "GroupChatScreen",
			"sender":    senderID,
			"groupId":   groupID,
			"groupName": groupName,
		},
	}
}

// IncomingCall announces a video call from callerID.
func IncomingCall(callerID, callerName string) Notification {
	return Notification{
		Title: "Incoming Video Call",
		Body:  "You have an incoming video call.",
		Data: map[string]string{
			"type":       "videocall",
			"callerId":   callerID,
			"callerName": callerName,
		},
	}
}
