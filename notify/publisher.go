// Package notify publishes message lifecycle events over MQTT and accepts
// send requests from it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"i4.energy/across/modemd/sms"
)

// Publisher is the part of an MQTT client used for events.
// mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Event is the JSON payload published for every list event.
type Event struct {
	Event     string    `json:"event"`
	ID        string    `json:"id"`
	Received  bool      `json:"received,omitempty"`
	Complete  bool      `json:"complete"`
	Number    string    `json:"number,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Notifier turns list events into MQTT messages on
// "<topic>/<added|completed|deleted>".
type Notifier struct {
	client   Publisher
	topic    string
	messages *sms.List
	timeout  time.Duration
	logger   *slog.Logger
}

func NewNotifier(client Publisher, topic string, messages *sms.List, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		client:   client,
		topic:    topic,
		messages: messages,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Handle is an sms.Listener. It does not wait for the broker.
func (n *Notifier) Handle(e sms.Event) {
	payload := Event{
		Event:    e.Kind.String(),
		ID:       e.ID.String(),
		Received: e.Received,
	}
	// Deleted messages are gone from the list already.
	if msg, ok := n.messages.Get(e.ID); ok {
		payload.Complete = msg.IsComplete()
		payload.Number = msg.Number()
		payload.Timestamp = msg.Timestamp()
		if payload.Complete {
			payload.Text = msg.Text()
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode event", "error", err)
		return
	}

	topic := n.topic + "/" + payload.Event
	token := n.client.Publish(topic, 1, false, body)
	go n.wait(token, topic)
}

func (n *Notifier) wait(token mqtt.Token, topic string) {
	if !token.WaitTimeout(n.timeout) {
		n.logger.Warn("MQTT publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		n.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}

// Sender sends a text message. *session.Session satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, number, text string) ([]int, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, number, text string) ([]int, error)

func (f SenderFunc) SendMessage(ctx context.Context, number, text string) ([]int, error) {
	return f(ctx, number, text)
}

// SendRequest is the JSON payload accepted on the send topic.
type SendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// HandleSendRequest decodes and sends one request received over MQTT.
func HandleSendRequest(ctx context.Context, sender Sender, payload []byte, logger *slog.Logger) error {
	var req SendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logger.Warn("MQTT bad payload", "error", err)
		return err
	}
	if req.To == "" || req.Message == "" {
		logger.Warn("MQTT send request without to/message")
		return errMissingFields
	}

	refs, err := sender.SendMessage(ctx, req.To, req.Message)
	if err != nil {
		logger.Error("Failed to send SMS", "error", err, "to", req.To)
		return err
	}
	logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message), "references", refs)
	return nil
}
