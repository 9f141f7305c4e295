package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/iepathos/prodigy-sub010/internal/logging"
)

// NATSWriter republishes each event onto a JetStream subject for
// external subscribers (dashboards, alerting). It is best-effort and
// opt-in: publish failures are logged, never returned, so a broker
// outage never blocks the durable JSONL write path.
type NATSWriter struct {
	conn    *nats.Conn
	subject string
	log     *logging.Logger
}

func NewNATSWriter(conn *nats.Conn, subject string, log *logging.Logger) *NATSWriter {
	if log == nil {
		log = logging.Noop()
	}
	return &NATSWriter{conn: conn, subject: subject, log: log}
}

func (w *NATSWriter) Write(batch []Event) error {
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			w.log.Error("marshal event %s for nats publish: %v", e.ID, err)
			continue
		}
		if err := w.conn.Publish(fmt.Sprintf("%s.%s", w.subject, e.Kind), data); err != nil {
			w.log.Error("publish event %s to nats: %v", e.ID, err)
		}
	}
	return nil
}
