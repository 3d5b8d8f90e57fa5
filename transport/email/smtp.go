// Copyright 2026 The Logfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPSender delivers messages over SMTP with optional PLAIN auth.
type SMTPSender struct {
	Addr string // host:port
	From string
	To   []string

	// Username and Password enable PLAIN auth when non-empty.
	Username string
	Password string

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for the given relay and recipients.
func NewSMTPSender(addr, from string, to ...string) (*SMTPSender, error) {
	if addr == "" || from == "" || len(to) == 0 {
		return nil, errors.New("email transport: smtp sender needs addr, from, and recipients")
	}
	return &SMTPSender{Addr: addr, From: from, To: to, send: smtp.SendMail}, nil
}

// Send implements [Sender].
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	sendFn := s.send
	if sendFn == nil {
		sendFn = smtp.SendMail
	}
	return sendFn(s.Addr, auth, s.From, s.To, []byte(b.String()))
}

var _ Sender = (*SMTPSender)(nil)
