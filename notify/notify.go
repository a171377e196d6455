/*
DESCRIPTION
  Package notify e-mails operators about queries that stop working,
  using the MailJet API. Repeat messages about the same subscription are
  suppressed for a period with the help of a TimeStore.

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean)

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  It is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

// Package notify sends e-mail notifications.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

const (
	defaultSender    = "subsync@ausocean.org"
	defaultRecipient = "ops@ausocean.org"
	defaultPeriod    = time.Hour
)

// Kind is the kind of a notification.
type Kind string

const (
	KindDead     Kind = "dead"     // A query fell below its death velocity.
	KindNotFound Kind = "notfound" // A query's gallery no longer exists.
	KindError    Kind = "error"    // A subscription's checks are failing.
)

// Subject returns the e-mail subject for the kind.
func (k Kind) Subject() string {
	switch k {
	case KindDead:
		return "Dead query notification"
	case KindNotFound:
		return "Gallery not found notification"
	case KindError:
		return "Subscription error notification"
	default:
		return "Subsync notification"
	}
}

// Mailer sends one e-mail.
type Mailer interface {
	Mail(ctx context.Context, from string, to []string, subject, body string) error
}

// Notifier represents a notifier that uses the MailJet API to send email.
type Notifier struct {
	mutex      sync.Mutex     // Lock access.
	sender     string         // Sender email address.
	recipients []string       // Recipient email addresses.
	store      TimeStore      // Notification store (optional).
	period     time.Duration  // Minimum time between repeat messages.
	filters    []string       // Message filters (optional).
	mailer     Mailer         // Sends mail, nil when testing.
	log        logging.Logger // Optional.
}

// Init initializes a notifier with the supplied options. See the With
// functions for a description of the various options. Secrets are
// required to send actual emails using the MailJet API, but can be
// omitted during testing. It is permissable to re-initalize a Notifier
// with different options, however missing options will revert to
// their defaults.
func (n *Notifier) Init(options ...Option) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	// Set default values.
	n.sender = defaultSender
	n.recipients = []string{defaultRecipient}
	n.store = nil
	n.period = defaultPeriod
	n.filters = nil
	n.mailer = nil
	n.log = nil

	// Apply options.
	for i, opt := range options {
		err := opt(n)
		if err != nil {
			return fmt.Errorf("could not apply option # %d, %v", i, err)
		}
	}

	return nil
}

// Send sends a message about the named subscription, depending on what
// options are present. With filters, all filters must match in order
// to send. With a store, the message is sent only if the same kind of
// message about the subscription was not sent recently.
func (n *Notifier) Send(ctx context.Context, sub string, kind Kind, msg string) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	for _, f := range n.filters {
		if !strings.Contains(msg, f) {
			n.debug("filter applied, not sending", "filter", f, "kind", kind, "subscription", sub)
			return nil
		}
	}

	key := sub + "." + string(kind)
	if n.store != nil {
		sendable, err := n.store.Sendable(ctx, n.period, key)
		if err != nil {
			n.warning("could not check notification time", "key", key, "error", err)
		}
		if !sendable {
			n.debug("too soon to send", "kind", kind, "subscription", sub)
			return nil
		}
	}

	n.debug("sending notification", "kind", kind, "subscription", sub, "recipients", n.recipients)
	if n.mailer != nil {
		err := n.mailer.Mail(ctx, n.sender, n.recipients, kind.Subject(), msg)
		if err != nil {
			return fmt.Errorf("could not send mail: %w", err)
		}
	}

	if n.store != nil {
		err := n.store.Sent(ctx, key)
		if err != nil {
			n.warning("could not record notification time", "key", key, "error", err)
		}
	}

	return nil
}

func (n *Notifier) debug(msg string, args ...interface{}) {
	if n.log != nil {
		n.log.Debug(msg, args...)
	}
}

func (n *Notifier) warning(msg string, args ...interface{}) {
	if n.log != nil {
		n.log.Warning(msg, args...)
	}
}

// mailjetMailer sends mail with the MailJet API.
type mailjetMailer struct {
	publicKey  string
	privateKey string
}

// Mail implements Mailer.
func (m *mailjetMailer) Mail(ctx context.Context, from string, to []string, subject, body string) error {
	clt := mailjet.NewMailjetClient(m.publicKey, m.privateKey)
	rcpts := make(mailjet.RecipientsV31, len(to))
	for i, addr := range to {
		rcpts[i] = mailjet.RecipientV31{Email: addr}
	}
	info := []mailjet.InfoMessagesV31{{
		From:     &mailjet.RecipientV31{Email: from},
		To:       &rcpts,
		Subject:  subject,
		TextPart: body,
	}}
	msgs := mailjet.MessagesV31{Info: info}
	_, err := clt.SendMailV31(&msgs)
	return err
}
