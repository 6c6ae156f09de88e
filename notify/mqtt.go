package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var errMissingFields = errors.New("both 'to' and 'message' fields are required")

// Options configure the MQTT connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// SendTopic receives SendRequest payloads. Empty disables sending.
	SendTopic string
	// SendTimeout bounds each send request. Zero means one minute.
	SendTimeout time.Duration
}

// Connect opens an auto-reconnecting client. Once connected it subscribes to
// the send topic and hands requests to sender. The client disconnects when
// ctx ends.
func Connect(ctx context.Context, opts Options, sender Sender, logger *slog.Logger) (mqtt.Client, error) {
	if opts.Broker == "" {
		return nil, errors.New("MQTT broker is required")
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = time.Minute
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetOrderMatters(false)
	co.SetAutoReconnect(true)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	co.SetOnConnectHandler(func(c mqtt.Client) {
		if opts.SendTopic == "" || sender == nil {
			logger.Info("MQTT connected")
			return
		}
		logger.Info("MQTT connected, subscribing", "topic", opts.SendTopic)
		token := c.Subscribe(opts.SendTopic, 0, func(_ mqtt.Client, m mqtt.Message) {
			reqCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			_ = HandleSendRequest(reqCtx, sender, m.Payload(), logger)
		})
		if token.Wait() && token.Error() != nil {
			logger.Error("MQTT subscribe error", "error", token.Error())
		}
	})

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect: %w", token.Error())
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(500)
	}()
	return client, nil
}
