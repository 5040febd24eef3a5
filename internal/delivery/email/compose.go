package email

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nao1215/marketnotify/internal/notification"
)

// Job はメール送信1件分の内容。キューへはJSONで積む。
type Job struct {
	// ID はジョブの一意識別子。Message-IDにも使う。
	ID string `json:"id"`
	// UserID は受信者のユーザーID。
	UserID string `json:"user_id"`
	// To は送信先アドレス。
	To string `json:"to"`
	// Kind はイベント種別。
	Kind notification.Kind `json:"kind"`
	// Payload は通知内容。
	Payload notification.Payload `json:"payload"`
	// ContractorID は関係するコントラクター。
	ContractorID string `json:"contractor_id,omitempty"`
	// CreatedAt はジョブ作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// Validate はジョブとして送信可能かを検証する。
func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("ジョブIDが空です")
	case j.To == "":
		return fmt.Errorf("ジョブ %s の送信先が空です", j.ID)
	case !j.Kind.Valid():
		return fmt.Errorf("ジョブ %s の種別 %q は未定義です", j.ID, j.Kind)
	}
	return nil
}

// Composer は通知メールのMIMEメッセージを組み立てる。
type Composer struct {
	// From は差出人アドレス。
	From mail.Address
	// BaseURL はリンクの前に付けるフロントエンドのURL。
	BaseURL string
}

// Compose はテキストとHTMLの両方を含むmultipart/alternativeのメールを返す。
func (c Composer) Compose(job Job) ([]byte, error) {
	var h mail.Header
	h.SetDate(job.CreatedAt)
	h.SetSubject(job.Payload.Title)
	h.SetAddressList("From", []*mail.Address{&c.From})
	h.SetAddressList("To", []*mail.Address{{Address: job.To}})
	h.SetMessageID(job.ID + "@marketnotify")
	h.Set("X-Marketnotify-Kind", job.Kind.String())

	var buf bytes.Buffer
	tw, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("メールヘッダーの書き込みに失敗: %w", err)
	}

	link := ""
	if job.Payload.Link != "" {
		link = strings.TrimRight(c.BaseURL, "/") + job.Payload.Link
	}

	if err := writePart(tw, "text/plain", textBody(job.Payload, link)); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", htmlBody(job.Payload, link)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("メールのクローズに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("%s パートの作成に失敗: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("%s パートの書き込みに失敗: %w", contentType, err)
	}
	return w.Close()
}

func textBody(p notification.Payload, link string) string {
	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteString("\n\n")
	b.WriteString(p.Body)
	b.WriteString("\n")
	if link != "" {
		b.WriteString("\n")
		b.WriteString(link)
		b.WriteString("\n")
	}
	return b.String()
}

func htmlBody(p notification.Payload, link string) string {
	var b strings.Builder
	b.WriteString("<html><body><h2>")
	b.WriteString(html.EscapeString(p.Title))
	b.WriteString("</h2><p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(p.Body), "\n", "<br>"))
	b.WriteString("</p>")
	if link != "" {
		fmt.Fprintf(&b, `<p><a href="%s">詳細を見る</a></p>`, html.EscapeString(link))
	}
	b.WriteString("</body></html>")
	return b.String()
}
