package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/malaysiangroceries/kopikopi-be/internal/config"
	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

// Currency is the display currency for every price the shop sends out.
const Currency = "AUD"

const smtpTimeout = 20 * time.Second

// Notifier delivers customer-facing messages. Implementations may fail
// independently of any database work.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, code string, ttl time.Duration) error
	SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error
}

// OrderConfirmation is everything the confirmation email shows.
type OrderConfirmation struct {
	To            string
	RefNum        string
	Items         []models.OrderLineItem
	Total         decimal.Decimal
	TrackURL      string
	PickupAddress string
	MapsURL       string
}

// SMTPMailer sends multipart text and HTML mail through an SMTP relay.
type SMTPMailer struct {
	from     string
	host     string
	port     int
	username string
	password string
	useTLS   bool
	useSSL   bool
	log      *zap.Logger
}

// NewSMTPMailer builds a mailer from the SMTP section of the configuration.
func NewSMTPMailer(cfg *config.Config, log *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		from:     cfg.SenderEmail,
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.AppPassword,
		useTLS:   cfg.SMTPUseTLS,
		useSSL:   cfg.SMTPUseSSL,
		log:      log.Named("mailer"),
	}
}

// SendVerificationCode mails a one-time code.
func (m *SMTPMailer) SendVerificationCode(ctx context.Context, to, code string, ttl time.Duration) error {
	data := verificationEmail{Code: code, Minutes: int(ttl.Round(time.Minute) / time.Minute)}
	html, err := render(verificationTemplate, data)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Your Kopi Kopi verification code is %s. It expires in %d minutes.", code, data.Minutes)
	return m.send(ctx, to, "Your Kopi Kopi verification code", text, html)
}

// SendOrderConfirmation mails the receipt and tracking link for a new order.
func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	html, err := render(confirmationTemplate, newConfirmationEmail(msg))
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Your order %s is confirmed. Track it here: %s", msg.RefNum, msg.TrackURL)
	return m.send(ctx, msg.To, fmt.Sprintf("Kopi Kopi Order Confirmation (%s)", msg.RefNum), text, html)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, text, html string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)

	client, err := mail.NewClient(m.host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.log.Warn("send mail failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("send mail: %w", err)
	}
	m.log.Info("mail sent", zap.String("subject", subject))
	return nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTimeout(smtpTimeout),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.username),
		mail.WithPassword(m.password),
	}
	switch {
	case m.useSSL:
		opts = append(opts, mail.WithSSL())
	case m.useTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	return opts
}

// FormatPrice renders amount with thousand separators and two decimals,
// e.g. "AUD 1,234.50".
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = Currency
	}
	whole, frac, _ := strings.Cut(amount.Abs().StringFixed(2), ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return currency + " " + amount.StringFixed(2)
	}
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return currency + " " + sign + humanize.Comma(n) + "." + frac
}

type verificationEmail struct {
	Code    string
	Minutes int
}

type confirmationLine struct {
	Name      string
	Qty       int
	LineTotal string
}

type confirmationEmail struct {
	RefNum        string
	Lines         []confirmationLine
	Total         string
	TrackURL      string
	PickupAddress string
	MapsURL       string
}

func newConfirmationEmail(msg OrderConfirmation) confirmationEmail {
	lines := make([]confirmationLine, 0, len(msg.Items))
	for _, item := range msg.Items {
		lines = append(lines, confirmationLine{
			Name:      item.Name,
			Qty:       item.Qty,
			LineTotal: FormatPrice(item.LineTotal, Currency),
		})
	}
	return confirmationEmail{
		RefNum:        msg.RefNum,
		Lines:         lines,
		Total:         FormatPrice(msg.Total, Currency),
		TrackURL:      msg.TrackURL,
		PickupAddress: msg.PickupAddress,
		MapsURL:       msg.MapsURL,
	}
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

var verificationTemplate = template.Must(template.New("verification").Parse(`<div style="font-family:Arial,sans-serif;background:#f6f7fb;padding:24px;">
  <div style="max-width:560px;margin:0 auto;background:#ffffff;border-radius:14px;padding:24px;border:1px solid #eceff5;">
    <h2 style="margin-top:0;color:#1f2937;">Kopi Kopi Verification Code</h2>
    <p style="color:#374151;line-height:1.6;">Use this 4-digit code to confirm your online order.</p>
    <div style="margin:24px 0;padding:18px;text-align:center;background:#111827;color:#ffffff;border-radius:10px;font-size:34px;letter-spacing:8px;font-weight:700;">{{.Code}}</div>
    <p style="color:#6b7280;line-height:1.6;">This code expires in {{.Minutes}} minutes. If you did not request this, you can ignore this email.</p>
  </div>
</div>`))

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<div style="font-family:Arial,sans-serif;background:#f6f7fb;padding:24px;">
  <div style="max-width:620px;margin:0 auto;background:#ffffff;border-radius:14px;padding:24px;border:1px solid #eceff5;">
    <h2 style="margin-top:0;color:#1f2937;">Order Confirmed: {{.RefNum}}</h2>
    <p style="color:#374151;line-height:1.6;">Thanks for ordering with Kopi Kopi. Your order has been received and is currently pending.</p>
    <div style="background:#f3f4f6;border-radius:10px;padding:14px 16px;margin:16px 0;">
      <p style="margin:0 0 8px;color:#111827;font-weight:600;">Pickup address</p>
      <p style="margin:0;color:#4b5563;">{{.PickupAddress}}</p>
      {{if .MapsURL}}<a href="{{.MapsURL}}" style="display:inline-block;margin-top:10px;color:#0f766e;text-decoration:none;font-weight:600;">Open in Google Maps</a>{{end}}
    </div>
    <table width="100%" cellspacing="0" cellpadding="0" style="margin-top:12px;">
      {{range .Lines}}<tr>
        <td style="padding:8px 0;color:#374151;">{{.Name}} x {{.Qty}}</td>
        <td style="padding:8px 0;text-align:right;color:#111827;">{{.LineTotal}}</td>
      </tr>{{end}}
    </table>
    <p style="margin-top:16px;color:#111827;font-size:18px;font-weight:700;">Total: {{.Total}}</p>
    <a href="{{.TrackURL}}" style="display:inline-block;margin-top:14px;padding:12px 18px;background:#111827;color:#ffffff;text-decoration:none;border-radius:999px;font-weight:600;">Track Order</a>
  </div>
</div>`))
