// Package sms delivers one-time codes to phone numbers.
package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

type gatewayRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// GatewaySender posts messages to an HTTP SMS gateway.
type GatewaySender struct {
	client *resty.Client
	from   string
}

// NewGatewaySender returns a sender for the gateway at baseURL authenticated by apiKey.
func NewGatewaySender(baseURL, apiKey, from string) *GatewaySender {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &GatewaySender{client: client, from: from}
}

func (g *GatewaySender) Send(ctx context.Context, phone, message string) error {
	var out gatewayResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(gatewayRequest{To: phone, From: g.from, Message: message}).
		SetResult(&out).
		SetError(&out).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode(), out.Error)
	}
	logrus.WithFields(logrus.Fields{"message_id": out.ID, "status": out.Status}).Debug("sms accepted by gateway")
	return nil
}

// LogSender writes messages to the log instead of delivering them. For development only.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phone, message string) error {
	logrus.WithField("phone", phone).Warnf("sms gateway not configured, message: %s", message)
	return nil
}
