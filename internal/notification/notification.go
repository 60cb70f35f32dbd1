package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/congo-pay/rewards_auth/internal/otp"
)

// KindOTP marks a one-time code message.
const KindOTP = "otp"

// Message describes a notification payload. Secret holds the sensitive part
// of Body so sinks can redact it.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Secret      string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
	reveal bool
}

// NewLoggerNotifier constructs a logging notifier stub. Secrets are only
// written when reveal is set, which development builds use to read codes.
func NewLoggerNotifier(logger *slog.Logger, reveal bool) *LoggerNotifier {
	return &LoggerNotifier{logger: logger, reveal: reveal}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	body := message.Body
	if !n.reveal && message.Secret != "" {
		body = strings.ReplaceAll(body, message.Secret, strings.Repeat("*", len(message.Secret)))
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", body)
	return nil
}

// OTPSender renders challenge codes as SMS text and hands them to a Notifier.
type OTPSender struct {
	notifier Notifier
	appName  string
	now      func() time.Time
	title    cases.Caser
}

// NewOTPSender adapts n for use as an otp.Sender.
func NewOTPSender(n Notifier, appName string) *OTPSender {
	return &OTPSender{notifier: n, appName: appName, now: time.Now, title: cases.Title(language.English)}
}

// SendCode implements otp.Sender.
func (s *OTPSender) SendCode(ctx context.Context, c otp.Challenge, code string) error {
	return s.notifier.Send(ctx, Message{
		Kind:        KindOTP,
		Destination: c.Phone.String(),
		Body:        s.render(c, code),
		Secret:      code,
	})
}

func (s *OTPSender) render(c otp.Challenge, code string) string {
	purpose := s.title.String(strings.ReplaceAll(string(c.Purpose), "_", " "))
	minutes := int(c.ExpiresAt.Sub(c.IssuedAt).Round(time.Minute) / time.Minute)
	return fmt.Sprintf("%s %s code: %s. Valid for %d minutes. Do not share it.", s.appName, purpose, code, minutes)
}
