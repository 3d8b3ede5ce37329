package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iti/nidsim/internal/logging"
	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config names the NATS server and subject run records go to.
type Config struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// Publisher sends run records to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     logging.Logger
}

// NewPublisher connects to the NATS server named in cfg.
func NewPublisher(cfg Config, log logging.Logger) (*Publisher, error) {
	if cfg.Subject == "" {
		return nil, errors.New("publish: no subject configured")
	}
	if log == nil {
		log = logging.Noop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("nidsim"), nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	log.Info(context.Background(), "connected to nats", logging.String("url", cfg.URL),
		logging.String("subject", cfg.Subject))
	return &Publisher{nc: nc, subject: cfg.Subject, log: log}, nil
}

// EncodeRecord serializes a flat record as a protobuf Struct.
func EncodeRecord(rec map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(normalize(rec))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeRecord is the inverse of EncodeRecord.  Numbers come back as float64.
func DecodeRecord(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return st.AsMap(), nil
}

// normalize turns integer counters into float64, the only number a Struct holds
func normalize(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		switch n := v.(type) {
		case uint64:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}

// Publish encodes rec and sends it, waiting until the server has it or ctx
// ends.
func (p *Publisher) Publish(ctx context.Context, rec map[string]any) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", p.subject, err)
	}
	p.log.Debug(ctx, "run record published", logging.String("subject", p.subject), logging.Int("bytes", len(data)))
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.log.Warn(context.Background(), "nats drain failed", logging.Err(err))
		}
	}
}
