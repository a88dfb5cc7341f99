package notification

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialsync/pkg/logger"
)

// Channel 返回某个收件人的 Redis 频道名
func Channel(recipientID string) string { return "notifications:" + recipientID }

type publishJob struct {
	recipient string
	payload   []byte
	enqAt     time.Time
}

// Publisher 有界异步推送队列；队列满时丢弃并告警，不阻塞派发
type Publisher struct {
	rdb       *redis.Client
	ch        chan publishJob
	metricsCh chan time.Duration
}

func NewPublisher(rdb *redis.Client, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Publisher{rdb: rdb, ch: make(chan publishJob, queueSize), metricsCh: make(chan time.Duration, 1024)}
}

// Start 启动若干 worker；返回的停止函数会在超时前尽量排空队列
func (p *Publisher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-p.ch:
					p.publish(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		for {
			select {
			case job := <-p.ch:
				p.publish(job)
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}
	}
}

func (p *Publisher) publish(job publishJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.rdb.Publish(ctx, Channel(job.recipient), job.payload).Err(); err != nil {
		logger.Warn("notification publish failed", zap.String("recipient", job.recipient), zap.Error(err))
		return
	}
	select {
	case p.metricsCh <- time.Since(job.enqAt):
	default:
	}
}

func (p *Publisher) Enqueue(recipient string, payload []byte) {
	select {
	case p.ch <- publishJob{recipient: recipient, payload: payload, enqAt: time.Now()}:
	default:
		logger.Warn("notification queue full, drop", zap.String("recipient", recipient))
	}
}

// Metrics 返回推送耗时的只读通道（采样，满了丢弃）
func (p *Publisher) Metrics() <-chan time.Duration { return p.metricsCh }

// QueueLen 返回当前队列长度（采样值）
func (p *Publisher) QueueLen() int { return len(p.ch) }
