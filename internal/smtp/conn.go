package smtp

import (
	"crypto/tls"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
)

// connect establishes an authenticated SMTP client per the account's
// security mode. Forced modes fail fast; auto tries implicit TLS, then
// STARTTLS, then plaintext, accepting the first mode that both completes
// its handshake and authenticates.
func (d *Dispatcher) connect(account *models.Account, password string) (*smtp.Client, error) {
	mode := account.SMTPSecurity
	if mode == "" {
		mode = models.SMTPSecurityAuto
	}

	if mode != models.SMTPSecurityAuto {
		return d.connectMode(account, password, mode)
	}

	var lastErr error
	for _, candidate := range []models.SMTPSecurity{
		models.SMTPSecuritySSL,
		models.SMTPSecurityStartTLS,
		models.SMTPSecurityPlain,
	} {
		client, err := d.connectMode(account, password, candidate)
		if err == nil {
			return client, nil
		}
		lastErr = err
	}
	return nil, mailerr.Wrap(mailerr.KindSend, lastErr, "all SMTP security modes failed for %s", account.SMTPHost)
}

func (d *Dispatcher) connectMode(account *models.Account, password string, mode models.SMTPSecurity) (*smtp.Client, error) {
	addr := net.JoinHostPort(account.SMTPHost, strconv.Itoa(account.SMTPPort))
	dialer := &net.Dialer{Timeout: d.timeout}

	var client *smtp.Client
	switch mode {
	case models.SMTPSecuritySSL:
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: account.SMTPHost})
		if err != nil {
			return nil, mailerr.Wrap(mailerr.KindConnection, err, "TLS dial to %s failed", addr)
		}
		client = smtp.NewClient(conn)

	case models.SMTPSecurityStartTLS:
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, mailerr.Wrap(mailerr.KindConnection, err, "dial to %s failed", addr)
		}
		client, err = smtp.NewClientStartTLS(conn, &tls.Config{ServerName: account.SMTPHost})
		if err != nil {
			_ = conn.Close()
			return nil, mailerr.Wrap(mailerr.KindConnection, err, "STARTTLS with %s failed", addr)
		}

	case models.SMTPSecurityPlain:
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, mailerr.Wrap(mailerr.KindConnection, err, "dial to %s failed", addr)
		}
		client = smtp.NewClient(conn)

	default:
		return nil, mailerr.New(mailerr.KindValidation, "unknown SMTP security mode %q", mode)
	}

	client.CommandTimeout = d.timeout
	client.SubmissionTimeout = d.timeout

	if err := client.Auth(sasl.NewPlainClient("", account.Email, password)); err != nil {
		_ = client.Close()
		return nil, mailerr.Wrap(mailerr.KindAuthentication, err, "SMTP auth rejected for %s", account.Email)
	}

	return client, nil
}
