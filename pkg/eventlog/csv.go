package eventlog

import (
	"encoding/csv"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05.000"

	IgnoredMarker = "(ignored)"
	TimeoutMarker = "(timeout)"
)

// Row renders a record in the session log layout:
//
//	sent       date;send;request
//	matched    date;request_time;request;response_time;response
//	keepalive  date;;;recv;keepalive
//	ignored    date;recv;request;(ignored)
//	timeout    date;send;request;expiry;(timeout)
func Row(record Record) []string {
	date := record.Date.Format(DateLayout)
	switch record.Kind {
	case Kind_Sent:
		return []string{date, record.RequestTime.Format(TimeLayout), record.Request}
	case Kind_Matched:
		return []string{
			date,
			record.RequestTime.Format(TimeLayout), record.Request,
			record.ResponseTime.Format(TimeLayout), record.Response,
		}
	case Kind_Keepalive:
		return []string{date, "", "", record.ResponseTime.Format(TimeLayout), record.Response}
	case Kind_Ignored:
		return []string{date, record.RequestTime.Format(TimeLayout), record.Request, IgnoredMarker}
	case Kind_Timeout:
		return []string{
			date,
			record.RequestTime.Format(TimeLayout), record.Request,
			record.ResponseTime.Format(TimeLayout), TimeoutMarker,
		}
	}
	return []string{date, record.Kind.String()}
}

type csvSink struct {
	mut    sync.Mutex
	writer *csv.Writer
	closer io.Closer
	log    *zap.Logger
}

// CreateCsvSink writes one ';'-separated row per record, flushed immediately.
func CreateCsvSink(w io.Writer, logger *zap.Logger) *csvSink {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	writer := csv.NewWriter(w)
	writer.Comma = ';'

	sink := &csvSink{
		writer: writer,
		log:    logger.With(zap.String("handler", "CsvSink")),
	}
	if c, ok := w.(io.Closer); ok {
		sink.closer = c
	}
	return sink
}

// OpenCsvFile truncates path and returns a sink appending to it for the rest of the session.
func OpenCsvFile(path string, logger *zap.Logger) (*csvSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open event log %s", path)
	}
	return CreateCsvSink(f, logger), nil
}

func (s *csvSink) Emit(record Record) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if err := s.writer.Write(Row(record)); err != nil {
		s.log.Warn("Failed to write event record", zap.Error(err))
		return
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.log.Warn("Failed to flush event record", zap.Error(err))
	}
}

func (s *csvSink) Close() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.writer.Flush()
	err := s.writer.Error()
	if s.closer != nil {
		if closeErr := s.closer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
