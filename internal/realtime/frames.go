package realtime

import (
	"encoding/json"
	"strings"
)

// Frame types.
const (
	// Client to server.
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"

	// Server to client.
	FrameMessage = "message"
	FrameError   = "error"
	FrameReceipt = "receipt"
)

// Destination prefixes.
const (
	TopicPrefix     = "/topic/"
	UserPrefix      = "/user/"
	OwnQueuePrefix  = "/user/queue/"
	queuePathPrefix = "/queue/"
)

// Frame is one JSON message on a realtime connection.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	// Sender is set on messages relayed from another connection.
	Sender  string `json:"sender,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorFrame(destination, message string) Frame {
	return Frame{Type: FrameError, Destination: destination, Message: message}
}

func isTopic(destination string) bool {
	return strings.HasPrefix(destination, TopicPrefix) && len(destination) > len(TopicPrefix)
}

func isOwnQueue(destination string) bool {
	return strings.HasPrefix(destination, OwnQueuePrefix) && len(destination) > len(OwnQueuePrefix)
}

// parseUserDestination splits /user/{name}/queue/... into the user name and
// the user-relative queue /queue/....
func parseUserDestination(destination string) (user, queue string, ok bool) {
	rest, found := strings.CutPrefix(destination, UserPrefix)
	if !found {
		return "", "", false
	}
	name, tail, found := strings.Cut(rest, "/")
	if !found || name == "" || name == "queue" {
		return "", "", false
	}
	queue = "/" + tail
	if !strings.HasPrefix(queue, queuePathPrefix) || len(queue) == len(queuePathPrefix) {
		return "", "", false
	}
	return name, queue, true
}

func isQueue(destination string) bool {
	return strings.HasPrefix(destination, queuePathPrefix) && len(destination) > len(queuePathPrefix)
}

// ownQueueFor maps a user-relative queue (/queue/x) to the subscription a user holds (/user/queue/x).
func ownQueueFor(queue string) string {
	return "/user" + queue
}
