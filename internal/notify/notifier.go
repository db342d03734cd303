package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/metrics"
)

// DefaultQueueSize はNewNotifierにサイズ0を渡した場合のキュー長。
const DefaultQueueSize = 100

// ErrQueueClosed はClose後に積もうとした場合のエラー。
var ErrQueueClosed = errors.New("notify queue closed")

// 通知の種別。メトリクスのラベルにも使う。
const (
	KindWelcome      = "welcome"
	KindNotification = "notification"
	KindTest         = "test"
)

type job struct {
	kind  string
	build func(now time.Time) (Message, error)
}

// Notifier はメールをキューに積み、Runのゴルーチンで順に送信する。
// 呼び出し元に配送エラーは返さない。失敗はログとメトリクスに記録する。
type Notifier struct {
	mailer    Mailer
	branding  Branding
	collector metrics.MetricsCollector
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	jobs   chan job
}

// NewNotifier はNotifierを生成する。collectorがnilの場合は記録しない。
func NewNotifier(mailer Mailer, branding Branding, queueSize int, collector metrics.MetricsCollector) *Notifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if branding.AppName == "" {
		branding.AppName = "Digital Coffee"
	}
	return &Notifier{
		mailer:    mailer,
		branding:  branding,
		collector: collector,
		now:       time.Now,
		jobs:      make(chan job, queueSize),
	}
}

// SendWelcome は新規登録者へのウェルカムメールを積む。
func (n *Notifier) SendWelcome(email, name string) {
	n.enqueue(job{kind: KindWelcome, build: func(now time.Time) (Message, error) {
		return welcomeMessage(n.branding, email, name, now)
	}})
}

// SendNotification は任意の件名と本文の通知メールを積む。本文のHTMLは無害化される。
func (n *Notifier) SendNotification(email, subject, message string) {
	n.enqueue(job{kind: KindNotification, build: func(now time.Time) (Message, error) {
		return notificationMessage(n.branding, email, subject, message, now)
	}})
}

// SendTest はSMTP設定確認用のテストメールを積む。
func (n *Notifier) SendTest(email string) {
	n.enqueue(job{kind: KindTest, build: func(now time.Time) (Message, error) {
		return testMessage(n.branding, email, now)
	}})
}

// enqueue はジョブを積む。キューが満杯か閉じている場合は破棄して記録する。
func (n *Notifier) enqueue(j job) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		slog.Warn("notification dropped", slog.String("kind", j.kind), slog.String("error", ErrQueueClosed.Error()))
		n.collector.RecordNotificationFailure(j.kind)
		return
	}
	select {
	case n.jobs <- j:
	default:
		slog.Warn("notification dropped: queue full", slog.String("kind", j.kind))
		n.collector.RecordNotificationFailure(j.kind)
	}
}

// Run はキューを処理する。ctxが終了するか、Close後にキューが空になると戻る。
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-n.jobs:
			if !ok {
				return
			}
			n.deliver(ctx, j)
		}
	}
}

// Close は以降の受け付けを止める。積まれた分はRunが送信し終えてから戻る。
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.jobs)
}

// Pending はキューに残っているジョブ数を返す。
func (n *Notifier) Pending() int {
	return len(n.jobs)
}

func (n *Notifier) deliver(ctx context.Context, j job) {
	msg, err := j.build(n.now())
	if err == nil {
		err = n.mailer.Send(ctx, msg)
	}
	if err != nil {
		slog.Error("failed to send email",
			slog.String("kind", j.kind),
			slog.String("error", err.Error()),
		)
		n.collector.RecordNotificationFailure(j.kind)
		return
	}
	slog.Info("email sent", slog.String("kind", j.kind))
}
