// Package eventlog carries protocol event records from the server and client sessions to
// whatever persists or displays them.
package eventlog

import (
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Kind uint8

const (
	Kind_Sent Kind = iota
	Kind_Matched
	Kind_Keepalive
	Kind_Ignored
	Kind_Timeout
)

func (k Kind) String() string {
	switch k {
	case Kind_Sent:
		return "sent"
	case Kind_Matched:
		return "matched"
	case Kind_Keepalive:
		return "keepalive"
	case Kind_Ignored:
		return "ignored"
	case Kind_Timeout:
		return "timeout"
	}
	return "unknown"
}

// Record is one protocol event. Which fields are set depends on Kind:
//
//	Sent       Request, RequestTime
//	Matched    Request, RequestTime, Response, ResponseTime
//	Keepalive  Response, ResponseTime
//	Ignored    Request, RequestTime
//	Timeout    Request, RequestTime, ResponseTime (nominal expiry instant)
//
// On the server RequestTime is when the request was received; on the client it is when it was sent.
type Record struct {
	Kind Kind
	Date time.Time

	Request     string
	RequestTime time.Time

	Response     string
	ResponseTime time.Time
}

type Sink interface {
	Emit(record Record)
}

type SinkFunc func(record Record)

func (f SinkFunc) Emit(record Record) {
	f(record)
}

// Discard drops every record.
var Discard Sink = SinkFunc(func(Record) {})

type multiSink struct {
	sinks []Sink
}

func (m *multiSink) Emit(record Record) {
	for _, s := range m.sinks {
		s.Emit(record)
	}
}

// Close closes every wrapped sink that is also an io.Closer.
func (m *multiSink) Close() error {
	var err error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

func MultiSink(sinks ...Sink) *multiSink {
	return &multiSink{sinks: sinks}
}

type zapSink struct {
	log *zap.Logger
}

// CreateZapSink writes every record to the logger at debug level.
func CreateZapSink(logger *zap.Logger) Sink {
	return &zapSink{log: logger.With(zap.String("handler", "EventLog"))}
}

func (s *zapSink) Emit(record Record) {
	fields := []zap.Field{zap.Stringer("kind", record.Kind)}
	if record.Request != "" {
		fields = append(fields, zap.String("request", record.Request), zap.Time("requestTime", record.RequestTime))
	}
	if !record.ResponseTime.IsZero() {
		fields = append(fields, zap.Time("responseTime", record.ResponseTime))
	}
	if record.Response != "" {
		fields = append(fields, zap.String("response", record.Response))
	}
	s.log.Debug("Protocol event", fields...)
}

// MemorySink keeps every record in emission order.
type MemorySink struct {
	mut     sync.Mutex
	records []Record
}

func (s *MemorySink) Emit(record Record) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.records = append(s.records, record)
}

func (s *MemorySink) Records() []Record {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *MemorySink) ByKind(kind Kind) []Record {
	s.mut.Lock()
	defer s.mut.Unlock()

	var out []Record
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
