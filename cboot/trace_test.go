package cboot_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/credmesh/credmesh/cboot"
	"github.com/credmesh/credmesh/internal/ctest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// spanLog is a tracer provider that records span names,
// added events and error statuses.
type spanLog struct {
	noop.TracerProvider

	mu      sync.Mutex
	entries []string
}

func (l *spanLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *spanLog) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return spanLogTracer{log: l}
}

type spanLogTracer struct {
	noop.Tracer
	log *spanLog
}

func (t spanLogTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.log.add("start:" + name)
	return ctx, spanLogSpan{log: t.log}
}

type spanLogSpan struct {
	noop.Span
	log *spanLog
}

func (s spanLogSpan) AddEvent(name string, _ ...trace.EventOption) { s.log.add("event:" + name) }
func (s spanLogSpan) SetStatus(c codes.Code, _ string) {
	if c == codes.Error {
		s.log.add("error")
	}
}
func (s spanLogSpan) End(...trace.SpanEndOption) { s.log.add("end") }

func TestSequencer_Run_traces(t *testing.T) {
	t.Parallel()

	tp := new(spanLog)
	s := cboot.NewSequencer(ctest.NewLogger(t), tp)

	_, err := s.Run(t.Context(), new(recordingPublisher), transcriptRequest())
	require.NoError(t, err)
	require.Equal(t, []string{
		"start:bootstrap schema", "event:schema bootstrapped", "end",
	}, tp.entries)

	tp = new(spanLog)
	s = cboot.NewSequencer(ctest.NewLogger(t), tp)
	_, err = s.Run(t.Context(), &recordingPublisher{schemaErr: errors.New("rejected")}, transcriptRequest())
	require.Error(t, err)
	require.Equal(t, []string{"start:bootstrap schema", "error", "end"}, tp.entries)
}
