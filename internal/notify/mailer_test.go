package notify

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestBuildMessage(t *testing.T) {
	got := buildMessage(`"Digital Coffee" <noreply@example.com>`, Message{
		To:      "alice@example.com",
		Subject: "Welcome to Digital Coffee! ☕",
		HTML:    "<p>hi</p>",
	})

	for _, want := range []string{
		"From: \"Digital Coffee\" <noreply@example.com>\r\n",
		"To: alice@example.com\r\n",
		"Subject: =?utf-8?q?",
		"Content-Type: text/html; charset=UTF-8\r\n",
		"\r\n\r\n<p>hi</p>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q\n%s", want, got)
		}
	}
}

func TestSMTPMailer_From(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{FromAddress: "noreply@example.com", FromName: "Digital Coffee"})
	if got := m.From(); got != `"Digital Coffee" <noreply@example.com>` {
		t.Errorf("From() = %q", got)
	}
}

// startPlaintextSMTP はSTARTTLSを広告しないSMTPサーバーを起動する。
func startPlaintextSMTP(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("220 localhost ESMTP\r\n"))
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"):
				conn.Write([]byte("250-localhost\r\n250 AUTH PLAIN\r\n"))
			case strings.HasPrefix(line, "QUIT"):
				conn.Write([]byte("221 bye\r\n"))
				return
			default:
				conn.Write([]byte("250 ok\r\n"))
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// TestSMTPMailer_RefusesPlaintext はSTARTTLS非対応のサーバーに送信しないことを検証する。
func TestSMTPMailer_RefusesPlaintext(t *testing.T) {
	host, port := startPlaintextSMTP(t)
	m := NewSMTPMailer(SMTPConfig{
		Host:        host,
		Port:        port,
		FromAddress: "noreply@example.com",
		Timeout:     5 * time.Second,
	})

	err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "s", HTML: "b"})
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("expected STARTTLS refusal, got %v", err)
	}
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	err = m.Send(context.Background(), Message{To: "a@example.com"})
	if err == nil || !strings.Contains(err.Error(), "smtp dial") {
		t.Errorf("expected dial error, got %v", err)
	}
}

func TestNopMailer(t *testing.T) {
	if err := (NopMailer{}).Send(context.Background(), Message{To: "a@example.com"}); err != nil {
		t.Errorf("NopMailer.Send = %v", err)
	}
}
