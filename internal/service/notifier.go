package service

import (
	"fmt"
	"net/smtp"

	"github.com/domodwyer/mailyak/v3"
	"go.uber.org/zap"

	"skylift/internal/config"
)

// Notifier escalates a post that exhausted its retry budget.
type Notifier interface {
	NotifyFailure(postID uint, attempts int, lastError string) error
}

// MailNotifier sends the escalation over SMTP.
type MailNotifier struct {
	cfg    *config.NotifyConfig
	logger *zap.Logger
}

// NewMailNotifier returns nil when no notification target is configured,
// which the scheduler treats as "escalation disabled".
func NewMailNotifier(cfg *config.NotifyConfig, logger *zap.Logger) *MailNotifier {
	if cfg.Email == "" {
		return nil
	}
	return &MailNotifier{cfg: cfg, logger: logger}
}

func (n *MailNotifier) NotifyFailure(postID uint, attempts int, lastError string) error {
	mail := mailyak.New(
		fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort),
		smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost),
	)
	mail.From(n.cfg.SMTPUser)
	mail.FromName("Skylift")
	mail.To(n.cfg.Email)
	mail.Subject(fmt.Sprintf("Post %d failed after %d attempts", postID, attempts))
	mail.Plain().Set(fmt.Sprintf(
		"Post %d failed to publish after %d attempts.\n\nLast error:\n%s\n", postID, attempts, lastError))

	if err := mail.Send(); err != nil {
		return fmt.Errorf("failed to send escalation mail: %w", err)
	}

	n.logger.Info("Escalation mail sent",
		zap.Uint("post_id", postID),
		zap.String("to", n.cfg.Email))
	return nil
}
