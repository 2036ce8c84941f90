package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/config"
)

const dateLayout = "2006/1/2"

// Sender delivers sponsor reports over SMTP.
type Sender struct {
	config *config.EmailConfig
	loc    *time.Location
	clock  func() time.Time
	logger zerolog.Logger

	// dial is replaceable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func NewSender(cfg *config.EmailConfig, loc *time.Location, logger zerolog.Logger) *Sender {
	if loc == nil {
		loc = time.UTC
	}
	return &Sender{
		config: cfg,
		loc:    loc,
		clock:  time.Now,
		logger: logger.With().Str("component", "email").Logger(),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Message is a rendered report email.
type Message struct {
	From           string
	To             []string
	Subject        string
	HTML           string
	AttachmentName string
	Attachment     []byte
}

// Send renders the report for the schedule and delivers it to every recipient.
func (s *Sender) Send(ctx context.Context, schedule models.Schedule, report []byte, count int) error {
	if len(schedule.Emails) == 0 {
		return fmt.Errorf("schedule %s has no recipients", schedule.ID)
	}

	msg, err := s.Compose(schedule, report, count)
	if err != nil {
		return err
	}

	if timeout := s.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.sendViaSMTP(ctx, msg); err != nil {
		return fmt.Errorf("failed to send report for %s: %w", schedule.Name, err)
	}

	s.logger.Info().
		Str("schedule_id", schedule.ID).
		Strs("to", schedule.Emails).
		Int("count", count).
		Msg("report email sent")
	return nil
}

// Compose builds the subject, HTML summary and CSV attachment.
func (s *Sender) Compose(schedule models.Schedule, report []byte, count int) (*Message, error) {
	now := s.clock().In(s.loc)
	dateStr := now.Format(dateLayout)

	body, err := generateEmailBody(reportView{
		Name:        schedule.Name,
		Weeks:       schedule.Weeks,
		Channels:    strings.Join(schedule.Channels, "、"),
		Count:       count,
		GeneratedAt: now.Format(dateLayout + " 15:04:05"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate email body: %w", err)
	}

	from := (&mail.Address{Name: s.config.FromName, Address: s.config.FromEmail}).String()

	return &Message{
		From:           from,
		To:             append([]string(nil), schedule.Emails...),
		Subject:        fmt.Sprintf("📊 %s 業配報告 — %s（共 %d 筆）", schedule.Name, dateStr, count),
		HTML:           body,
		AttachmentName: fmt.Sprintf("業配報告_%s_%s.csv", schedule.Name, now.Format("2006-01-02")),
		Attachment:     report,
	}, nil
}

// Bytes encodes the message as multipart/mixed MIME.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", m.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(htmlPart, []byte(m.HTML)); err != nil {
		return nil, err
	}

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType("text/csv", map[string]string{"charset": "UTF-8", "name": m.AttachmentName})},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": m.AttachmentName})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(attachment, m.Attachment); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sendViaSMTP performs the SMTP exchange on a connection bounded by ctx.
func (s *Sender) sendViaSMTP(ctx context.Context, msg *Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.SMTPServer, s.config.SMTPPort)
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// unblock the exchange if ctx is cancelled mid-flight
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, s.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.config.SMTPServer}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.config.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPServer)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(s.config.FromEmail); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Quit()
}

func writeBase64(w io.Writer, data []byte) error {
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

type reportView struct {
	Name        string
	Weeks       int
	Channels    string
	Count       int
	GeneratedAt string
}

var emailTemplate = template.Must(template.New("email").Parse(`
<div style="font-family:sans-serif;max-width:600px;margin:0 auto;">
  <h2 style="color:#e63030;">📊 YouTube 業配分析報告</h2>
  <p><b>排程名稱：</b>{{.Name}}</p>
  <p><b>分析期間：</b>近 {{.Weeks}} 週</p>
  <p><b>監控頻道：</b>{{.Channels}}</p>
  <p><b>找到業配：</b>{{.Count}} 筆</p>
  <p><b>產生時間：</b>{{.GeneratedAt}}</p>
  <hr style="margin:20px 0;">
  <p style="color:#888;font-size:0.85em;">詳細資料請見附件 CSV 檔，可用 Excel 開啟</p>
</div>
`))

func generateEmailBody(view reportView) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
