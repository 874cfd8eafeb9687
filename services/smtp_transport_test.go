package services

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dinamicdatalab/comments-report/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smtpServer atiende una sola sesión SMTP y registra los comandos recibidos
type smtpServer struct {
	ln       net.Listener
	cert     tls.Certificate
	starttls bool
	auth     string

	mu       sync.Mutex
	commands []string
	body     string
	done     chan struct{}
}

func newSMTPServer(t *testing.T, starttls bool, auth string) *smtpServer {
	t.Helper()

	certSrv := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(certSrv.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &smtpServer{
		ln:       ln,
		cert:     certSrv.TLS.Certificates[0],
		starttls: starttls,
		auth:     auth,
		done:     make(chan struct{}),
	}
	go s.serve()
	return s
}

func (s *smtpServer) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
}

func (s *smtpServer) session(t *testing.T) ([]string, string) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...), s.body
}

func (s *smtpServer) serve() {
	defer close(s.done)

	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer func() { conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	tp := textproto.NewConn(conn)
	secure := false
	tp.PrintfLine("220 fake.local ESMTP")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		s.record(line)

		switch {
		case strings.HasPrefix(line, "EHLO"):
			lines := []string{"fake.local"}
			if s.starttls && !secure {
				lines = append(lines, "STARTTLS")
			}
			if secure && s.auth != "" {
				lines = append(lines, "AUTH "+s.auth)
			}
			lines = append(lines, "8BITMIME")
			for i, l := range lines {
				sep := "-"
				if i == len(lines)-1 {
					sep = " "
				}
				tp.PrintfLine("250%s%s", sep, l)
			}
		case line == "STARTTLS":
			tp.PrintfLine("220 2.0.0 Ready to start TLS")
			tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{s.cert}})
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			tp = textproto.NewConn(tlsConn)
			secure = true
		case line == "AUTH LOGIN":
			tp.PrintfLine("334 %s", base64.StdEncoding.EncodeToString([]byte("Username:")))
			user, err := tp.ReadLine()
			if err != nil {
				return
			}
			s.record(user)
			tp.PrintfLine("334 %s", base64.StdEncoding.EncodeToString([]byte("Password:")))
			pass, err := tp.ReadLine()
			if err != nil {
				return
			}
			s.record(pass)
			tp.PrintfLine("235 2.7.0 Authentication successful")
		case strings.HasPrefix(line, "AUTH PLAIN "):
			tp.PrintfLine("235 2.7.0 Authentication successful")
		case strings.HasPrefix(line, "MAIL FROM:"), strings.HasPrefix(line, "RCPT TO:"):
			tp.PrintfLine("250 2.1.0 OK")
		case line == "DATA":
			tp.PrintfLine("354 Start mail input")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.body = strings.Join(lines, "\n")
			s.mu.Unlock()
			tp.PrintfLine("250 2.0.0 Queued")
		case line == "QUIT":
			tp.PrintfLine("221 2.0.0 Bye")
			return
		default:
			tp.PrintfLine("502 5.5.2 Command not implemented")
		}
	}
}

func testSMTPTransport(s *smtpServer) *SMTPTransport {
	return &SMTPTransport{
		Addr:      s.ln.Addr().String(),
		Host:      "127.0.0.1",
		Username:  "reportes@dinamicdatalab.com",
		Password:  "secreto",
		TLSConfig: &tls.Config{InsecureSkipVerify: true},
	}
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestSMTPTransportLoginAfterStartTLS(t *testing.T) {
	srv := newSMTPServer(t, true, "LOGIN XOAUTH2")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := testSMTPTransport(srv).Send(ctx, "reportes@dinamicdatalab.com",
		[]string{"marketing@bancoguayaquil.com", "analitica@bancoguayaquil.com"},
		[]byte("Subject: reporte\r\n\r\nhola\r\n"))
	require.NoError(t, err)

	commands, body := srv.session(t)
	assert.Equal(t, []string{
		"EHLO localhost",
		"STARTTLS",
		"EHLO localhost",
		"AUTH LOGIN",
		b64("reportes@dinamicdatalab.com"),
		b64("secreto"),
		"MAIL FROM:<reportes@dinamicdatalab.com>",
		"RCPT TO:<marketing@bancoguayaquil.com>",
		"RCPT TO:<analitica@bancoguayaquil.com>",
		"DATA",
		"QUIT",
	}, commands)
	assert.Contains(t, body, "Subject: reporte")
	assert.Contains(t, body, "hola")
}

func TestSMTPTransportPrefersPlainWhenAdvertised(t *testing.T) {
	srv := newSMTPServer(t, true, "PLAIN LOGIN")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := testSMTPTransport(srv).Send(ctx, "reportes@dinamicdatalab.com",
		[]string{"marketing@bancoguayaquil.com"}, []byte("Subject: reporte\r\n\r\nhola\r\n"))
	require.NoError(t, err)

	commands, _ := srv.session(t)
	require.GreaterOrEqual(t, len(commands), 4)
	assert.Equal(t, "AUTH PLAIN "+b64("\x00reportes@dinamicdatalab.com\x00secreto"), commands[3])
	assert.NotContains(t, commands, "AUTH LOGIN")
	assert.Contains(t, commands, "DATA")
}

func TestSMTPTransportRequiresStartTLS(t *testing.T) {
	srv := newSMTPServer(t, false, "PLAIN LOGIN")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := testSMTPTransport(srv).Send(ctx, "reportes@dinamicdatalab.com",
		[]string{"marketing@bancoguayaquil.com"}, []byte("hola\r\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server does not support STARTTLS")

	commands, body := srv.session(t)
	assert.Equal(t, []string{"EHLO localhost"}, commands)
	assert.Empty(t, body)
}

func TestNewSMTPTransportUsesConfiguredAddress(t *testing.T) {
	cfg := &common.Config{
		EmailUser:     "reportes@dinamicdatalab.com",
		EmailPassword: "secreto",
		SMTPHost:      "smtp.office365.com",
		SMTPPort:      "587",
	}

	tr := NewSMTPTransport(cfg)
	assert.Equal(t, "smtp.office365.com:587", tr.Addr)
	assert.Equal(t, "smtp.office365.com", tr.Host)
	assert.Nil(t, tr.TLSConfig)
}
