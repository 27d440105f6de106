package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/protocol"
	"github.com/smukkama/egg-grader/pkg/config"
)

// PushNotifier delivers notifications through the Expo push service.
type PushNotifier struct {
	httpClient *resty.Client
	tokens     []string
	log        *zap.Logger
}

// NewPushNotifier builds a push notifier from configuration
func NewPushNotifier(cfg config.PushConfig, log *zap.Logger) *PushNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if cfg.AccessToken != "" {
		client.SetAuthToken(cfg.AccessToken)
	}

	return &PushNotifier{httpClient: client, tokens: cfg.Tokens, log: log}
}

// pushMessage is one entry of the Expo send request
type pushMessage struct {
	To       string         `json:"to"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// pushTicket is the per-message result returned by Expo
type pushTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type pushResponse struct {
	Data []pushTicket `json:"data"`
}

type pushError struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Name implements Notifier
func (p *PushNotifier) Name() string { return "push" }

// Configured reports whether any device token is set
func (p *PushNotifier) Configured() bool { return len(p.tokens) > 0 }

// Notify implements Notifier
func (p *PushNotifier) Notify(ctx context.Context, req *protocol.NotificationRequest) error {
	if !p.Configured() {
		p.log.Info("no push tokens configured, skipping push", zap.String("title", req.Title))
		return nil
	}

	priority := "default"
	if req.Kind == protocol.KindError {
		priority = "high"
	}

	messages := make([]pushMessage, 0, len(p.tokens))
	for _, token := range p.tokens {
		messages = append(messages, pushMessage{
			To:       token,
			Title:    req.Title,
			Body:     req.Body,
			Sound:    "default",
			Priority: priority,
			Data: map[string]any{
				"notification_id": req.ID,
				"device_id":       req.DeviceID,
				"slot":            req.Slot,
				"severity":        req.Severity,
			},
		})
	}

	result := new(pushResponse)
	apiErr := new(pushError)
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(messages).
		SetResult(result).
		SetError(apiErr).
		Post("/push/send")
	if err != nil {
		return fmt.Errorf("send push notification: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		message := resp.Status()
		if len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}
		return fmt.Errorf("push api error: code=%d, message=%s", resp.StatusCode(), message)
	}

	var failed int
	for i, ticket := range result.Data {
		if ticket.Status == "ok" {
			continue
		}
		failed++
		token := ""
		if i < len(p.tokens) {
			token = p.tokens[i]
		}
		p.log.Warn("push ticket rejected",
			zap.String("token", token),
			zap.String("error", ticket.Details.Error),
			zap.String("message", ticket.Message))
	}
	if failed == len(messages) {
		return fmt.Errorf("push api rejected all %d messages", failed)
	}

	p.log.Info("push sent", zap.String("title", req.Title), zap.Int("recipients", len(messages)-failed))
	return nil
}
