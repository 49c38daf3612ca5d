package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

const (
	emailSubjectPrefix = "[Sitemap Monitor]"
	maxItemsPerSection = 10
)

// SMTPConfig configures the outgoing mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// UseTLS requires STARTTLS on the connection.
	UseTLS  bool
	Timeout time.Duration
}

// MailTransport sends prepared messages.
type MailTransport interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// EmailSender delivers change summaries by email.
type EmailSender struct {
	cfg       SMTPConfig
	transport MailTransport
	logger    *zap.Logger
}

// NewEmailSender builds an EmailSender. A nil transport dials cfg.Host per send.
func NewEmailSender(cfg SMTPConfig, transport MailTransport, logger *zap.Logger) *EmailSender {
	if transport == nil {
		transport = &smtpTransport{cfg: cfg}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailSender{cfg: cfg, transport: transport, logger: logger}
}

// Send implements Sender. The channel config must carry "email".
func (s *EmailSender) Send(ctx context.Context, ch monitor.Channel, msg Message) Delivery {
	to, _ := ch.Config["email"].(string)
	if strings.TrimSpace(to) == "" {
		return Delivery{Err: monitor.Errorf(monitor.KindConfiguration, "email address is not configured")}
	}

	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return Delivery{Err: monitor.Wrap(monitor.KindConfiguration, "invalid sender address", err)}
	}
	if err := m.To(to); err != nil {
		return Delivery{Err: monitor.Wrap(monitor.KindConfiguration, "invalid recipient address", err)}
	}
	m.Subject(EmailSubject(msg.Monitor))
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, EmailBody(msg))

	if err := s.transport.Send(ctx, m); err != nil {
		s.logger.Error("email notification failed", zap.String("to", to), zap.Error(err))
		return Delivery{Err: fmt.Errorf("send email: %w", err)}
	}
	s.logger.Info("email notification sent",
		zap.String("to", to),
		zap.String("monitor_id", msg.Monitor.ID),
		zap.String("change_id", msg.Change.ID),
	)
	return Delivery{Success: true}
}

// EmailSubject renders the subject line for a change on task.
func EmailSubject(task monitor.Task) string {
	return fmt.Sprintf("%s %s changed", emailSubjectPrefix, task.Name)
}

// EmailBody renders the plain-text summary. Each section lists at most ten
// items, followed by a count of the rest.
func EmailBody(msg Message) string {
	var b strings.Builder
	c := msg.Change
	fmt.Fprintf(&b, "The sitemap monitor %q detected changes.\n\n", msg.Monitor.Name)
	fmt.Fprintf(&b, "Sitemap URL: %s\n", msg.Monitor.SitemapURL)
	fmt.Fprintf(&b, "Detected at: %s\n\n", c.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	b.WriteString("Summary:\n")
	fmt.Fprintf(&b, "- Added URLs: %d\n", c.AddedCount)
	fmt.Fprintf(&b, "- Removed URLs: %d\n", c.RemovedCount)
	fmt.Fprintf(&b, "- Modified URLs: %d\n", c.ModifiedCount)

	writeSection(&b, "Added URLs", len(c.Changes.Added), func(i int) string {
		return c.Changes.Added[i].URL
	})
	writeSection(&b, "Removed URLs", len(c.Changes.Removed), func(i int) string {
		return c.Changes.Removed[i].URL
	})
	writeSection(&b, "Modified URLs", len(c.Changes.Modified), func(i int) string {
		m := c.Changes.Modified[i]
		return fmt.Sprintf("%s (lastmod: %s -> %s)", m.URL, deref(m.OldLastMod), deref(m.NewLastMod))
	})

	b.WriteString("\n\n---\nSitemap Monitor\n")
	return b.String()
}

func writeSection(b *strings.Builder, title string, n int, item func(int) string) {
	if n == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for i := 0; i < n && i < maxItemsPerSection; i++ {
		fmt.Fprintf(b, "  - %s\n", item(i))
	}
	if n > maxItemsPerSection {
		fmt.Fprintf(b, "  ... and %d more\n", n-maxItemsPerSection)
	}
}

func deref(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}

type smtpTransport struct {
	cfg SMTPConfig
}

func (t *smtpTransport) Send(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTLSPolicy(mail.NoTLS),
	}
	if t.cfg.UseTLS {
		opts[1] = mail.WithTLSPolicy(mail.TLSMandatory)
	}
	if t.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.cfg.Timeout))
	}
	if t.cfg.Username != "" && t.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	client, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp deliver: %w", err)
	}
	return nil
}
