package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	// BaseURL はメール本文のリンク先となるフロントエンドのURL。
	BaseURL string
}

// sendMailFunc はnet/smtp.SendMailと同じシグネチャ。テストで差し替える。
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier はHTMLとプレーンテキストのマルチパートメールをSMTPで送信する。
type SMTPNotifier struct {
	config   SMTPConfig
	sendMail sendMailFunc
}

// NewSMTPNotifier はSMTPNotifierを生成する。
func NewSMTPNotifier(config SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{config: config, sendMail: smtp.SendMail}
}

type mailTemplate struct {
	subject string
	body    *template.Template
}

var mailTemplates = map[Kind]mailTemplate{
	KindActivation: {
		subject: "Afrivac: メールアドレスの確認",
		body: template.Must(template.New("activation").Parse(`<html><body>
<h1>{{.Name}} さん、Afrivacへようこそ</h1>
<p>以下の確認コードを入力してアカウントを有効化してください。</p>
<p><strong>{{.Code}}</strong></p>
<p>このコードの有効期限は{{.ExpiresIn}}です。</p>
<p><a href="{{.BaseURL}}/confirm">{{.BaseURL}}/confirm</a></p>
</body></html>`)),
	},
	KindPasswordReset: {
		subject: "Afrivac: パスワードの再設定",
		body: template.Must(template.New("password_reset").Parse(`<html><body>
<h1>パスワード再設定</h1>
<p>{{.Name}} さん、パスワード再設定のリクエストを受け付けました。</p>
<p><strong>{{.Code}}</strong></p>
<p>このコードの有効期限は{{.ExpiresIn}}です。心当たりがない場合はこのメールを破棄してください。</p>
<p><a href="{{.BaseURL}}/reset-password">{{.BaseURL}}/reset-password</a></p>
</body></html>`)),
	},
	KindWelcome: {
		subject: "Afrivac: アカウントが有効になりました",
		body: template.Must(template.New("welcome").Parse(`<html><body>
<h1>{{.Name}} さん、登録が完了しました</h1>
<p>人気の旅行先を探してレビューを投稿しましょう。</p>
<p><a href="{{.BaseURL}}">{{.BaseURL}}</a></p>
</body></html>`)),
	},
}

// Send はメッセージをレンダリングしてSMTPで送信する。
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := n.buildMessage(msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}

	addr := n.config.Host + ":" + n.config.Port
	if err := n.sendMail(addr, auth, n.config.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
	}
	return nil
}

// buildMessage はヘッダーとmultipart/alternativeの本文を組み立てる。
func (n *SMTPNotifier) buildMessage(msg Message) ([]byte, error) {
	tmpl, ok := mailTemplates[msg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown notification kind: %q", msg.Kind)
	}

	var htmlBody bytes.Buffer
	err := tmpl.body.Execute(&htmlBody, struct {
		Name      string
		Code      string
		ExpiresIn string
		BaseURL   string
	}{
		Name:      msg.Name,
		Code:      msg.Code,
		ExpiresIn: formatDuration(msg.ExpiresIn),
		BaseURL:   strings.TrimRight(n.config.BaseURL, "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", msg.Kind, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", htmlToText(htmlBody.String())},
		{"text/html; charset=utf-8", htmlBody.String()},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, fmt.Errorf("failed to create mail part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("failed to write mail part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", n.config.From)
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", tmpl.subject))
	fmt.Fprintf(&out, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

// htmlToText はHTML本文からテキストパート用の文字列を抽出する。
// ブロック要素の終わりで改行し、aタグはhrefを括弧で併記する。
func htmlToText(htmlBody string) string {
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(htmlBody))
	var href string

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(collapseBlankLines(sb.String()))

		case html.TextToken:
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text != "" {
				sb.WriteString(text)
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			switch string(tn) {
			case "br":
				sb.WriteString("\n")
			case "a":
				href = ""
				for hasAttr {
					key, val, more := tokenizer.TagAttr()
					if string(key) == "href" {
						href = string(val)
					}
					hasAttr = more
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "p", "h1", "h2", "div", "li":
				sb.WriteString("\n\n")
			case "a":
				if href != "" && !strings.HasSuffix(sb.String(), href) {
					sb.WriteString(" (" + href + ")")
				}
				href = ""
			}
		}
	}
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// formatDuration はメール本文向けに期間を日本語で表す。
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "短時間"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d時間", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d分", int(d.Round(time.Minute)/time.Minute))
	}
}

// compile-time interface check
var _ Notifier = (*SMTPNotifier)(nil)
