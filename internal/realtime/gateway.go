package realtime

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"servicehub/request-service/internal/models"
	"servicehub/request-service/internal/services"
)

// Gateway owns the realtime surface: it authenticates joins against the
// request ledger, relays inbound chat through the message store, and fans
// persisted events out to channel members. The message store is the single
// source of truth for history; the gateway keeps none of its own.
type Gateway struct {
	hub      *Hub
	chat     services.ChatService
	requests services.RequestService
}

func NewGateway(hub *Hub, chat services.ChatService, requests services.RequestService) *Gateway {
	return &Gateway{hub: hub, chat: chat, requests: requests}
}

// HandleConnection services one websocket connection until it closes. It runs
// on the connection's own goroutine; the write side gets a second one.
func (g *Gateway) HandleConnection(ctx context.Context, conn *websocket.Conn, userID, role string) {
	client := NewClient(conn, userID, role)
	g.hub.Register(client)
	go client.writePump()

	g.pushUnreadSummary(ctx, client)

	defer func() {
		for requestID := range g.hub.JoinedChannels(client) {
			g.hub.Broadcast(requestID, Event{
				Type:      EventParticipantLeft,
				RequestID: requestID,
				Data:      Presence{UserID: client.UserID},
			}, client)
		}
		g.hub.Unregister(client)
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[HUB] Connection error for user %s: %v", userID, err)
			}
			return
		}
		g.dispatch(ctx, client, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, frame Frame) {
	requestID, err := primitive.ObjectIDFromHex(frame.RequestID)
	if err != nil {
		client.enqueue(Event{Type: EventError, Data: ErrorInfo{Message: "invalid request id"}})
		return
	}

	switch frame.Action {
	case "join":
		g.handleJoin(ctx, client, requestID)
	case "leave":
		g.hub.Leave(client, frame.RequestID)
		g.hub.Broadcast(frame.RequestID, Event{
			Type:      EventParticipantLeft,
			RequestID: frame.RequestID,
			Data:      Presence{UserID: client.UserID},
		}, client)
	case "send":
		g.handleSend(ctx, client, requestID, frame.Text)
	case "mark_read":
		g.handleMarkRead(ctx, client, requestID)
	default:
		client.enqueue(Event{Type: EventError, Data: ErrorInfo{Message: "unknown action: " + frame.Action}})
	}
}

// handleJoin admits only the owning client or the bound provider. A refused
// join pushes no history.
func (g *Gateway) handleJoin(ctx context.Context, client *Client, requestID primitive.ObjectID) {
	req, err := g.chat.Participants(ctx, requestID)
	if err != nil {
		client.enqueue(Event{Type: EventError, RequestID: requestID.Hex(), Data: ErrorInfo{Message: "request not found"}})
		return
	}
	if !req.IsParticipant(client.UserID) {
		client.enqueue(Event{Type: EventError, RequestID: requestID.Hex(), Data: ErrorInfo{Message: "not a participant"}})
		return
	}

	channel := requestID.Hex()
	g.hub.Join(client, channel)
	g.hub.Broadcast(channel, Event{
		Type:      EventParticipantJoin,
		RequestID: channel,
		Data:      Presence{UserID: client.UserID},
	}, client)

	// Pull-then-push: the joining party always gets the full persisted history.
	history, err := g.chat.GetHistory(ctx, requestID, client.UserID, client.Role)
	if err != nil {
		client.enqueue(Event{Type: EventError, RequestID: channel, Data: ErrorInfo{Message: "failed to load history"}})
		return
	}
	client.enqueue(Event{Type: EventHistory, RequestID: channel, Data: history})

	if count, err := g.chat.CountUnread(ctx, requestID, client.UserID); err == nil {
		client.enqueue(Event{
			Type:      EventUnreadSummary,
			RequestID: channel,
			Data:      []UnreadEntry{{RequestID: channel, Count: count}},
		})
	}
}

// handleSend persists first, then broadcasts. A persistence failure is
// reported to the sender and nothing is broadcast — the message must never be
// dropped silently.
func (g *Gateway) handleSend(ctx context.Context, client *Client, requestID primitive.ObjectID, text string) {
	msg, err := g.chat.SendMessage(ctx, requestID, client.UserID, text)
	if err != nil {
		client.enqueue(Event{Type: EventError, RequestID: requestID.Hex(), Data: ErrorInfo{Message: sendErrorMessage(err)}})
		return
	}

	channel := requestID.Hex()
	client.enqueue(Event{Type: EventMessageSentAck, RequestID: channel, Data: msg})
	g.hub.Broadcast(channel, Event{Type: EventNewMessage, RequestID: channel, Data: msg}, client)
}

func (g *Gateway) handleMarkRead(ctx context.Context, client *Client, requestID primitive.ObjectID) {
	count, err := g.chat.MarkRead(ctx, requestID, client.UserID)
	if err != nil {
		client.enqueue(Event{Type: EventError, RequestID: requestID.Hex(), Data: ErrorInfo{Message: sendErrorMessage(err)}})
		return
	}

	channel := requestID.Hex()
	g.hub.Broadcast(channel, Event{
		Type:      EventReadReceipt,
		RequestID: channel,
		Data:      ReadReceipt{ReaderID: client.UserID, Count: count},
	}, nil)
}

// StateChanged implements services.LifecycleEmitter: lifecycle transitions are
// recorded as system notices in the request history and pushed to the channel.
func (g *Gateway) StateChanged(ctx context.Context, req *models.ServiceRequest, action string) {
	notice := noticeText(action)
	if notice != "" {
		if msg, err := g.chat.AddSystemNotice(ctx, req.ID, notice); err == nil {
			g.hub.Broadcast(req.ID.Hex(), Event{Type: EventNewMessage, RequestID: req.ID.Hex(), Data: msg}, nil)
		} else {
			log.Printf("[HUB] Failed to record system notice: %v", err)
		}
	}

	g.hub.Broadcast(req.ID.Hex(), Event{
		Type:      EventStateChanged,
		RequestID: req.ID.Hex(),
		Data:      StateChange{Action: action, Status: string(req.Status)},
	}, nil)
}

// pushUnreadSummary tells a freshly connected party how many unread messages
// await in each of their requests, so a client without prior state can render
// badges before joining any channel.
func (g *Gateway) pushUnreadSummary(ctx context.Context, client *Client) {
	requests, err := g.requests.GetMyRequests(ctx, client.UserID)
	if err != nil {
		log.Printf("[HUB] Failed to load requests for unread summary: %v", err)
		return
	}

	summary := make([]UnreadEntry, 0, len(requests))
	for i := range requests {
		count, err := g.chat.CountUnread(ctx, requests[i].ID, client.UserID)
		if err != nil || count == 0 {
			continue
		}
		summary = append(summary, UnreadEntry{RequestID: requests[i].ID.Hex(), Count: count})
	}
	if len(summary) > 0 {
		client.enqueue(Event{Type: EventUnreadSummary, Data: summary})
	}
}

func noticeText(action string) string {
	switch action {
	case "accept":
		return "The provider accepted the request."
	case "reject":
		return "The provider declined the request."
	case "start":
		return "The provider started the work."
	case "finish":
		return "The work has been finished."
	case "cancel":
		return "The client cancelled the request."
	case "overdue":
		return "The scheduled time window has passed."
	default:
		return ""
	}
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "request not found"
	case errors.Is(err, models.ErrForbidden):
		return "not a participant"
	case errors.Is(err, models.ErrValidation):
		return err.Error()
	default:
		return "message could not be saved, please retry"
	}
}
