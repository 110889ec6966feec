package channels

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"omnibox/config"
	"omnibox/models"
	"omnibox/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// mailbox is the part of an IMAP session the email channel uses.
type mailbox interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

// EmailChannel reads mail folders over IMAP and replies over SMTP.
type EmailChannel struct {
	cfg  config.EmailConfig
	smtp *SMTPClient
	dial func() (mailbox, error)
	log  *utils.Logger
}

// NewEmailChannel creates the email collaborator.
func NewEmailChannel(cfg config.EmailConfig, smtpCfg config.SMTPConfig) *EmailChannel {
	from := cfg.Address
	if from == "" {
		from = cfg.Username
	}
	e := &EmailChannel{
		cfg:  cfg,
		smtp: NewSMTPClient(smtpCfg.Server, smtpCfg.GetPort(), smtpCfg.UseSTARTTLS, cfg.Username, from, cfg.Password),
		log:  utils.Log.WithField("channel", models.TopicEmail),
	}
	e.dial = e.connect
	return e
}

func (e *EmailChannel) connect() (mailbox, error) {
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var (
		c   *client.Client
		err error
	)
	if e.cfg.StoreType == "imap" {
		c, err = client.Dial(addr)
	} else {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: e.cfg.Host})
	}
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}

	if err := c.Login(e.cfg.Username, e.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login error: %w", err)
	}
	return c, nil
}

func (e *EmailChannel) Topic() models.Topic { return models.TopicEmail }

// Fetch reads every message of the configured folders, folder by folder in
// server order. Malformed messages are logged and skipped.
func (e *EmailChannel) Fetch(ctx context.Context) ([]models.Message, error) {
	c, err := e.dial()
	if err != nil {
		return nil, fetchError(models.TopicEmail, "connect", err)
	}
	defer c.Logout()

	var messages []models.Message
	for _, folder := range e.cfg.Folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := e.fetchFolder(c, folder)
		if err != nil {
			return nil, fetchError(models.TopicEmail, "folder "+folder, err)
		}
		messages = append(messages, batch...)
	}
	return messages, nil
}

func (e *EmailChannel) fetchFolder(c mailbox, folder string) ([]models.Message, error) {
	status, err := c.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("error selecting folder %s: %w", folder, err)
	}
	if status.Messages == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	fetched := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, fetched)
	}()

	var messages []models.Message
	for msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			e.log.Warn("Message %d in %s came without a body", msg.Uid, folder)
			continue
		}
		parsed, err := ParseRawEmail(body, msg.Flags)
		if err != nil {
			e.log.Warn("Skipping message %d in %s: %v", msg.Uid, folder, err)
			continue
		}
		parsed.Mailbox = folder
		parsed.UID = msg.Uid
		messages = append(messages, parsed)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %w", err)
	}
	return messages, nil
}

// ParseRawEmail converts one RFC 5322 message into a Message. Messages lacking
// Message-ID or From are rejected with a *utils.MalformedMessageError.
func ParseRawEmail(raw io.Reader, flags []string) (models.Message, error) {
	m, err := mail.ReadMessage(raw)
	if err != nil {
		return models.Message{}, &utils.MalformedMessageError{Channel: string(models.TopicEmail), Reason: err.Error()}
	}

	id := strings.TrimSpace(m.Header.Get("Message-ID"))
	if id == "" {
		return models.Message{}, &utils.MalformedMessageError{Channel: string(models.TopicEmail), Reason: "missing Message-ID"}
	}

	fromHeader := m.Header.Get("From")
	if strings.TrimSpace(fromHeader) == "" {
		return models.Message{}, &utils.MalformedMessageError{Channel: string(models.TopicEmail), MessageID: id, Reason: "missing From"}
	}

	msg := models.Message{
		ID:         id,
		ThreadRefs: strings.Fields(m.Header.Get("References")),
		ParentRef:  strings.TrimSpace(m.Header.Get("In-Reply-To")),
		Subject:    utils.DecodeHeader(m.Header.Get("Subject")),
		Read:       hasFlag(flags, imap.SeenFlag),
	}

	if from, err := m.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
		msg.SenderName = from[0].Name
	} else {
		msg.Sender = strings.TrimSpace(fromHeader)
	}
	if to, err := m.Header.AddressList("To"); err == nil && len(to) > 0 {
		msg.Recipient = to[0].Address
	} else {
		msg.Recipient = strings.TrimSpace(m.Header.Get("To"))
	}
	if date, err := m.Header.Date(); err == nil {
		msg.SentAt = date.UTC()
	}

	body, err := utils.MessageText(m)
	if err != nil {
		return models.Message{}, &utils.MalformedMessageError{Channel: string(models.TopicEmail), MessageID: id, Reason: "unreadable body: " + err.Error()}
	}
	msg.Body = body

	return msg, nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Aggregate resolves threads over the batch in fetch order, then groups.
func (e *EmailChannel) Aggregate(messages []models.Message) ([]models.Conversation, error) {
	resolved, rejected := utils.ResolveThreads(messages)
	for _, r := range rejected {
		e.log.Warn("%v", r)
	}
	return utils.GroupByThread(resolved), nil
}

// MarkRead sets \Seen on the unread messages of conversation, mailbox by
// mailbox.
func (e *EmailChannel) MarkRead(ctx context.Context, conversation models.Conversation) error {
	byMailbox := make(map[string]*imap.SeqSet)
	var order []string
	for _, msg := range conversation.Messages {
		if msg.Read || msg.UID == 0 || msg.Mailbox == "" {
			continue
		}
		set, ok := byMailbox[msg.Mailbox]
		if !ok {
			set = new(imap.SeqSet)
			byMailbox[msg.Mailbox] = set
			order = append(order, msg.Mailbox)
		}
		set.AddNum(msg.UID)
	}
	if len(order) == 0 {
		return nil
	}

	c, err := e.dial()
	if err != nil {
		return err
	}
	defer c.Logout()

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Select(name, false); err != nil {
			return fmt.Errorf("error selecting folder %s: %w", name, err)
		}
		if err := c.UidStore(byMailbox[name], item, flags, nil); err != nil {
			return fmt.Errorf("error marking messages in %s as read: %w", name, err)
		}
	}
	e.log.Info("Marked conversation %s as read", conversation.ID)
	return nil
}

// Send replies to msg.InReplyTo, keeping the reply in the same thread.
func (e *EmailChannel) Send(ctx context.Context, msg models.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.smtp.Reply(msg.Recipient, utils.ReplySubject(msg.Subject), msg.Body, msg.InReplyTo)
}
