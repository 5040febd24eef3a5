package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const maxReceiveBody = 1 << 20

var (
	// ErrInvalidSignature は署名が一致しないことを表す。
	ErrInvalidSignature = errors.New("Webhookの署名が一致しません")
	// ErrStaleTimestamp はタイムスタンプが許容範囲外であることを表す。
	ErrStaleTimestamp = errors.New("Webhookのタイムスタンプが許容範囲外です")
)

// HandleFunc は検証済みのエンベロープを処理する。
type HandleFunc func(ctx context.Context, env Envelope) error

// Receiver は署名を検証してからWebhookを受け取るHTTPハンドラ。
// 購読者側の実装例で、開発用の受信サーバー（cmd/webhookecho）が使う。
type Receiver struct {
	secret    string
	tolerance time.Duration
	handle    HandleFunc
	logger    *slog.Logger
	now       func() time.Time
}

// NewReceiver は新しいReceiverを生成する。secretが空なら署名を検証しない。
// toleranceが0以下ならタイムスタンプのずれを検査しない。
func NewReceiver(secret string, tolerance time.Duration, handle HandleFunc, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{secret: secret, tolerance: tolerance, handle: handle, logger: logger, now: time.Now}
}

// ServeHTTP は1件のWebhookを受け取る。
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "POSTのみ受け付けます", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReceiveBody+1))
	if err != nil {
		http.Error(w, "本文の読み込みに失敗しました", http.StatusBadRequest)
		return
	}
	if len(body) > maxReceiveBody {
		http.Error(w, "本文が大きすぎます", http.StatusRequestEntityTooLarge)
		return
	}

	if err := rc.verify(r.Header, body); err != nil {
		rc.logger.WarnContext(r.Context(), "Webhookの検証に失敗",
			slog.String("delivery_id", r.Header.Get(HeaderDelivery)),
			slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "本文がJSONではありません", http.StatusBadRequest)
		return
	}
	if rc.handle != nil {
		if err := rc.handle(r.Context(), env); err != nil {
			rc.logger.ErrorContext(r.Context(), "Webhookの処理に失敗",
				slog.String("delivery_id", env.ID),
				slog.Any("error", err))
			http.Error(w, "処理に失敗しました", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// verify はタイムスタンプと署名を検査する。
func (rc *Receiver) verify(h http.Header, body []byte) error {
	if rc.secret == "" {
		return nil
	}
	ts := h.Get(HeaderTimestamp)
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: タイムスタンプ %q", ErrInvalidSignature, ts)
	}
	if rc.tolerance > 0 {
		if d := rc.now().Sub(time.Unix(sec, 0)).Abs(); d > rc.tolerance {
			return fmt.Errorf("%w: %s", ErrStaleTimestamp, d)
		}
	}
	if !Verify(rc.secret, ts, body, h.Get(HeaderSignature)) {
		return ErrInvalidSignature
	}
	return nil
}
