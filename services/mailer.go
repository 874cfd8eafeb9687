package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dinamicdatalab/comments-report/common"
	"github.com/sirupsen/logrus"
)

var (
	ErrAttachmentMissing = errors.New("attachment not found")
	ErrSend              = errors.New("failed to send email")
)

const (
	subjectTemplate = "Consolidado de Comentarios Banco Guayaquil %s"
	bodyTemplate    = "Consolidado de los comentarios de todas las redes sociales del %s\n" +
		"El corte va desde las 4pm del dia anterior hasta las 4pm del dia de hoy.\n\n" +
		"Saludos,\nDinamicDataLab"
	dateLayout = "2006-01-02"
)

// MailTransport entrega un mensaje ya armado
type MailTransport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

type Mailer struct {
	from      string
	to        []string
	transport MailTransport
	loc       *time.Location
	logger    *common.Logger
}

func NewMailer(cfg *common.Config, transport MailTransport, logger *common.Logger) *Mailer {
	return &Mailer{
		from:      cfg.EmailUser,
		to:        cfg.Recipients(),
		transport: transport,
		loc:       cfg.Location,
		logger:    logger,
	}
}

func (m *Mailer) Subject(now time.Time) string {
	return fmt.Sprintf(subjectTemplate, now.In(m.loc).Format(dateLayout))
}

func (m *Mailer) Body(now time.Time) string {
	return fmt.Sprintf(bodyTemplate, now.In(m.loc).Format(dateLayout))
}

// SendReport envía attachmentPath a los destinatarios configurados. Si el
// adjunto no se puede leer no se envía nada.
func (m *Mailer) SendReport(ctx context.Context, attachmentPath string, now time.Time) error {
	msg, err := m.BuildMessage(attachmentPath, now)
	if err != nil {
		return err
	}
	if len(m.to) == 0 {
		return fmt.Errorf("%w: no recipients configured", ErrSend)
	}

	m.logger.WithStep("notify").WithFields(logrus.Fields{
		"to":         strings.Join(m.to, ", "),
		"attachment": filepath.Base(attachmentPath),
		"bytes":      len(msg),
	}).Info("Attempting to send email...")

	if err := m.transport.Send(ctx, m.from, m.to, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	m.logger.WithStep("notify").Info("Email sent successfully")
	return nil
}

// BuildMessage arma el multipart/mixed: cuerpo en texto plano + CSV adjunto
func (m *Mailer) BuildMessage(attachmentPath string, now time.Time) ([]byte, error) {
	attachment, err := os.ReadFile(attachmentPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAttachmentMissing, attachmentPath, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []string{
		"From: " + sanitizeHeader(m.from),
		"To: " + sanitizeHeader(strings.Join(m.to, ", ")),
		"Subject: " + mime.QEncoding.Encode("utf-8", sanitizeHeader(m.Subject(now))),
		"Date: " + now.In(m.loc).Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", mw.Boundary()),
		"",
		"",
	}
	buf.WriteString(strings.Join(headers, "\r\n"))

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/plain; charset="utf-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(text)
	if _, err := qp.Write([]byte(m.Body(now))); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	name := filepath.Base(attachmentPath)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/octet-stream"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64Lines(part, attachment); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64Lines escribe en líneas de 76 columnas (RFC 2045)
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// SMTPTransport envía por el puerto de submission con STARTTLS obligatorio.
// Host se usa para validar el certificado y para PLAIN.
type SMTPTransport struct {
	Addr      string
	Host      string
	Username  string
	Password  string
	TLSConfig *tls.Config
}

func NewSMTPTransport(cfg *common.Config) *SMTPTransport {
	return &SMTPTransport{
		Addr:     cfg.SMTPAddr(),
		Host:     cfg.SMTPHost,
		Username: cfg.EmailUser,
		Password: cfg.EmailPassword,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return errors.New("server does not support STARTTLS")
	}
	tlsConfig := t.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}
	}
	if err := c.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}

	if t.Username != "" {
		_, mechanisms := c.Extension("AUTH")
		if err := c.Auth(chooseAuth(mechanisms, t.Username, t.Password, t.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return c.Quit()
}

// chooseAuth usa PLAIN si el servidor lo anuncia y LOGIN en otro caso
// (Office 365 solo anuncia LOGIN y XOAUTH2).
func chooseAuth(mechanisms, username, password, host string) smtp.Auth {
	for _, mech := range strings.Fields(strings.ToUpper(mechanisms)) {
		if mech == "PLAIN" {
			return smtp.PlainAuth("", username, password, host)
		}
	}
	return &loginAuth{username: username, password: password}
}

type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("unencrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	challenge := strings.ToLower(strings.TrimSpace(string(fromServer)))
	switch {
	case strings.HasPrefix(challenge, "user"):
		return []byte(a.username), nil
	case strings.HasPrefix(challenge, "pass"):
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
}
