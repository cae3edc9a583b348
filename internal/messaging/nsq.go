package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
)

const (
	DefaultNSQChannel      = "workers"
	DefaultNSQMsgTimeout   = time.Minute
	DefaultNSQRequeueDelay = 5 * time.Second
	nsqCloseTimeout        = 30 * time.Second
)

func nsqLogger() *slogNSQLogger {
	return &slogNSQLogger{}
}

// slogNSQLogger forwards go-nsq's internal log lines to slog.
type slogNSQLogger struct{}

func (l *slogNSQLogger) Output(calldepth int, s string) error {
	slog.Debug(s, "component", "nsq")
	return nil
}

type NSQPublisher struct {
	producer *nsq.Producer
	topic    string
}

func NewNSQPublisher(nsqdAddr, topic string) (*NSQPublisher, error) {
	if topic == "" {
		topic = ScoreQueue
	}

	producer, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("error creating nsq producer: %w", err)
	}
	producer.SetLogger(nsqLogger(), nsq.LogLevelWarning)

	var pingErr error
	for i := 0; i < MaxConnectRetry; i++ {
		if pingErr = producer.Ping(); pingErr == nil {
			slog.Info("connected to nsqd", "addr", nsqdAddr)
			return &NSQPublisher{producer: producer, topic: topic}, nil
		}
		slog.Warn("failed to connect to nsqd", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", pingErr)
		time.Sleep(RetryDelay)
	}
	producer.Stop()
	return nil, fmt.Errorf("failed to connect to nsqd after %d attempts: %w", MaxConnectRetry, pingErr)
}

func (p *NSQPublisher) PublishScoreTask(ctx context.Context, payload ScoreTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", p.topic, err)
	}

	// nsqd answers once the message is in its queue.
	done := make(chan *nsq.ProducerTransaction, 1)
	if err := p.producer.PublishAsync(p.topic, body, done); err != nil {
		slog.Error("failed to publish task", "topic", p.topic, "error", err)
		return fmt.Errorf("failed to publish %s: %w", p.topic, err)
	}

	select {
	case t := <-done:
		if t.Error != nil {
			slog.Error("failed to publish task", "topic", p.topic, "error", t.Error)
			return fmt.Errorf("failed to publish %s: %w", p.topic, t.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *NSQPublisher) Close() {
	p.producer.Stop()
}

type NSQTask struct {
	msg          *nsq.Message
	topic        string
	requeueDelay time.Duration
	settled      chan struct{}
	once         sync.Once
}

func (t *NSQTask) Type() string {
	return t.topic
}

func (t *NSQTask) Payload() []byte {
	return t.msg.Body
}

func (t *NSQTask) Redelivered() bool {
	return t.msg.Attempts > 1
}

func (t *NSQTask) settle(respond func()) {
	t.once.Do(func() {
		respond()
		close(t.settled)
	})
}

func (t *NSQTask) Ack() error {
	t.settle(t.msg.Finish)
	return nil
}

func (t *NSQTask) Nack() error {
	t.settle(func() { t.msg.RequeueWithoutBackoff(t.requeueDelay) })
	return nil
}

func (t *NSQTask) Reject() error {
	t.settle(t.msg.Finish)
	return nil
}

type NSQOptions struct {
	NsqdAddr     string
	LookupdAddrs []string
	Topic        string
	Channel      string
	MsgTimeout   time.Duration
	RequeueDelay time.Duration
	Concurrency  int
}

type NSQReceiver struct {
	consumer     *nsq.Consumer
	tasks        chan Task
	topic        string
	msgTimeout   time.Duration
	requeueDelay time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewNSQReceiver(opts NSQOptions) (*NSQReceiver, error) {
	if opts.Topic == "" {
		opts.Topic = ScoreQueue
	}
	if opts.Channel == "" {
		opts.Channel = DefaultNSQChannel
	}
	if opts.MsgTimeout <= 0 {
		opts.MsgTimeout = DefaultNSQMsgTimeout
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = DefaultNSQRequeueDelay
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	config := nsq.NewConfig()
	config.MsgTimeout = opts.MsgTimeout
	config.MaxInFlight = opts.Concurrency
	config.MaxAttempts = 0 // redeliver until a worker acknowledges

	consumer, err := nsq.NewConsumer(opts.Topic, opts.Channel, config)
	if err != nil {
		return nil, fmt.Errorf("error creating nsq consumer for topic %s: %w", opts.Topic, err)
	}
	consumer.SetLogger(nsqLogger(), nsq.LogLevelWarning)

	r := &NSQReceiver{
		consumer:     consumer,
		tasks:        make(chan Task),
		topic:        opts.Topic,
		msgTimeout:   opts.MsgTimeout,
		requeueDelay: opts.RequeueDelay,
		stop:         make(chan struct{}),
	}
	consumer.AddConcurrentHandlers(r, opts.Concurrency)

	for i := 0; i < MaxConnectRetry; i++ {
		if len(opts.LookupdAddrs) > 0 {
			err = consumer.ConnectToNSQLookupds(opts.LookupdAddrs)
		} else {
			err = consumer.ConnectToNSQD(opts.NsqdAddr)
		}
		if err == nil {
			slog.Info("nsq consumer connected", "topic", opts.Topic, "channel", opts.Channel)
			return r, nil
		}
		slog.Warn("failed to connect nsq consumer", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	consumer.Stop()
	return nil, fmt.Errorf("failed to connect nsq consumer after %d attempts: %w", MaxConnectRetry, err)
}

// HandleMessage hands the message to Tasks() and holds it, touching it so
// nsqd does not time it out, until the consumer settles it.
func (r *NSQReceiver) HandleMessage(msg *nsq.Message) error {
	msg.DisableAutoResponse()

	task := &NSQTask{msg: msg, topic: r.topic, requeueDelay: r.requeueDelay, settled: make(chan struct{})}

	select {
	case r.tasks <- task:
	case <-r.stop:
		msg.Requeue(0)
		return nil
	}

	ticker := time.NewTicker(r.msgTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-task.settled:
			return nil
		case <-ticker.C:
			msg.Touch()
		}
	}
}

func (r *NSQReceiver) Tasks() <-chan Task {
	return r.tasks
}

func (r *NSQReceiver) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.consumer.Stop()

		select {
		case <-r.consumer.StopChan:
		case <-time.After(nsqCloseTimeout):
			slog.Warn("timed out waiting for nsq consumer to stop", "topic", r.topic)
		}
	})
}
