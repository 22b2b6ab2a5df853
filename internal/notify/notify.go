// Package notify はユーザー宛てのメール通知を提供する。
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind は通知の種類。
type Kind string

const (
	// KindActivation はサインアップ直後のメールアドレス確認コード。
	KindActivation Kind = "activation"
	// KindPasswordReset はパスワード再設定コード。
	KindPasswordReset Kind = "password_reset"
	// KindWelcome はアカウント有効化完了の案内。
	KindWelcome Kind = "welcome"
)

// Message は1件の通知内容。Codeは平文のワンタイムコードで、ここ以外には残さない。
type Message struct {
	Kind      Kind
	To        string
	Name      string
	Code      string
	ExpiresIn time.Duration
}

// Notifier は通知の送信インターフェース。
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier はSMTP未設定時に通知内容をログへ出力する。
// 開発環境でコードを確認するためのもので、コードを見るにはLOG_LEVEL=debugにする。本番ではSMTPNotifierを使う。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send は通知をログに記録する。平文のコードはDEBUGレベルでのみ出力する。
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification (mail disabled)",
		slog.String("kind", string(msg.Kind)),
		slog.String("to", msg.To),
	)
	if msg.Code != "" {
		n.logger.DebugContext(ctx, "notification code (mail disabled)",
			slog.String("kind", string(msg.Kind)),
			slog.String("to", msg.To),
			slog.String("code", msg.Code),
		)
	}
	return nil
}

// AsyncNotifier は送信を別goroutineで行い、呼び出し元をブロックしない。
// 送信失敗はログに記録するのみで呼び出し元には返さない。
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewAsyncNotifier はAsyncNotifierを生成する。
func NewAsyncNotifier(next Notifier, timeout time.Duration, logger *slog.Logger) *AsyncNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncNotifier{next: next, timeout: timeout, logger: logger}
}

// Send は送信をスケジュールして即座にnilを返す。
// リクエストのキャンセルに巻き込まれないよう、独立したコンテキストで送信する。
func (n *AsyncNotifier) Send(ctx context.Context, msg Message) error {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.next.Send(sendCtx, msg); err != nil {
			n.logger.Error("failed to send notification",
				slog.String("kind", string(msg.Kind)),
				slog.String("to", msg.To),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Wait は送信中の通知がすべて完了するまで待つ。シャットダウン時に使う。
func (n *AsyncNotifier) Wait() {
	n.wg.Wait()
}

// compile-time interface check
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*AsyncNotifier)(nil)
)
