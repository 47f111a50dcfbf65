package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

// SMTPConfig holds connection parameters for direct email delivery.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	FromAddr   string
	Encryption string // "none", "starttls", "ssl_tls"
}

// SMTPClient delivers email notifications through an SMTP server using the
// go-mail library. It only accepts TypeEmail.
type SMTPClient struct {
	config  SMTPConfig
	subject string
}

// NewSMTPClient creates a new SMTPClient.
func NewSMTPClient(config SMTPConfig) *SMTPClient {
	return &SMTPClient{config: config, subject: "Notification"}
}

// Name returns the target name.
func (c *SMTPClient) Name() string { return "smtp" }

// Deliver sends n.Message to n.Recipient. Temporary SMTP replies (4xx) are
// retryable, permanent ones fatal.
func (c *SMTPClient) Deliver(ctx context.Context, n model.Notification) Outcome {
	if n.Type != model.TypeEmail {
		return Fatal(0, fmt.Sprintf("smtp cannot deliver %q notifications", n.Type))
	}

	m := mail.NewMsg()
	if err := m.From(c.config.FromAddr); err != nil {
		return Fatal(0, fmt.Sprintf("invalid from address: %v", err))
	}
	if err := m.To(strings.TrimSpace(n.Recipient)); err != nil {
		return Fatal(0, fmt.Sprintf("invalid recipient %q: %v", n.Recipient, err))
	}
	m.Subject(c.subject)
	m.SetBodyString(mail.TypeTextPlain, n.Message)
	if n.CampaignID != "" {
		m.SetGenHeader("X-Campaign-Id", n.CampaignID)
	}

	opts := []mail.Option{
		mail.WithPort(c.config.Port),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(c.config.Encryption)),
		mail.WithTimeout(DefaultTimeout),
	}
	if c.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.config.Username),
			mail.WithPassword(c.config.Password),
		)
	}

	client, err := mail.NewClient(c.config.Host, opts...)
	if err != nil {
		return Fatal(0, fmt.Sprintf("creating mail client: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return classifySMTP(ctx, err)
	}
	return Success(0, nil)
}

// smtpReplyError is satisfied by *mail.SendError.
type smtpReplyError interface {
	error
	IsTemp() bool
	ErrorCode() int
}

func classifySMTP(ctx context.Context, err error) Outcome {
	if isTimeout(ctx, err) {
		return Timeout(fmt.Sprintf("smtp: %v", err))
	}
	var reply smtpReplyError
	if errors.As(err, &reply) {
		code := reply.ErrorCode()
		if reply.IsTemp() {
			return Retryable(code, fmt.Sprintf("smtp temporary failure: %v", err))
		}
		// A 5xx reply means the server answered and is healthy. Without a
		// reply code the failure happened before the server could respond.
		if code < 500 {
			code = 0
		}
		return Fatal(code, fmt.Sprintf("smtp permanent failure: %v", err))
	}
	return Fatal(0, fmt.Sprintf("smtp: %v", err))
}

// tlsPolicyFromEncryption converts the encryption string to a go-mail TLSPolicy.
func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
