// SPDX-License-Identifier: GPL-2.0-or-later

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}
	return strconv.Itoa(int(l))
}

// ParseLevel accepts a level name or its numeric value.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("invalid log level: %q", s) //nolint:goerr113
	}
	return Level(n), nil
}

// UnixMicro time in microseconds.
type UnixMicro uint64

// NewUnixMicro converts t.
func NewUnixMicro(t time.Time) UnixMicro {
	return UnixMicro(t.UnixNano() / 1000)
}

// Entry defines log entry.
type Entry struct {
	Level Level
	Time  UnixMicro // Timestamp.
	Src   string    // Source.
	Job   string    // Export job id, optional.
	Msg   string
}

// ILogger is the logging interface used by packages that
// only produce entries.
type ILogger interface {
	Log(Entry)
}

// Event is an entry under construction.
type Event struct {
	entry  Entry
	logger ILogger
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.entry.Src = source
	return e
}

// Job sets the export job the event belongs to.
func (e *Event) Job(jobID string) *Event {
	e.entry.Job = jobID
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.entry.Time = NewUnixMicro(t)
	return e
}

// Msg sends the event with msg added as the message field.
func (e *Event) Msg(msg string) {
	e.entry.Msg = msg
	e.logger.Log(e.entry)
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

func newEvent(logger ILogger, level Level) *Event {
	return &Event{
		entry: Entry{
			Level: level,
			Time:  NewUnixMicro(time.Now()),
		},
		logger: logger,
	}
}

type logFeed chan Entry

// Logger fans out entries to subscribers.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	// Closed when the hub stops, entries are dropped after that.
	done chan struct{}
	Ctx  context.Context

	sources   map[string]struct{}
	sourcesMu sync.Mutex

	wg *sync.WaitGroup
}

// NewLogger returns a Logger, call Start before use.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:    make(logFeed),
		sub:     make(chan logFeed),
		unsub:   make(chan logFeed),
		done:    make(chan struct{}),
		Ctx:     context.Background(),
		sources: make(map[string]struct{}),
		wg:      wg,
	}
}

// NewMockLogger returns a started logger that discards entries.
func NewMockLogger() *Logger {
	l := NewLogger(&sync.WaitGroup{})
	l.Start(context.Background())
	return l
}

// Start logger.
func (l *Logger) Start(ctx context.Context) {
	l.Ctx = ctx
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)

		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case entry := <-l.feed:
				for ch := range subs {
					select {
					case ch <- entry:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
}

// Log sends entry to all subscribers.
// The time is set to now if it is zero.
func (l *Logger) Log(entry Entry) {
	if entry.Time == 0 {
		entry.Time = NewUnixMicro(time.Now())
	}
	if entry.Src != "" {
		l.sourcesMu.Lock()
		l.sources[entry.Src] = struct{}{}
		l.sourcesMu.Unlock()
	}
	select {
	case l.feed <- entry:
	case <-l.done:
	}
}

// Sources returns the sources that have logged so far, sorted.
func (l *Logger) Sources() []string {
	l.sourcesMu.Lock()
	defer l.sourcesMu.Unlock()
	sources := make([]string, 0, len(l.sources))
	for src := range l.sources {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Entry, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.done:
			return
		}
	}
}

// LogToStdout prints log feed to Stdout.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry, ok := <-feed:
			if !ok {
				return
			}
			fmt.Println(FormatEntry(entry))
		case <-ctx.Done():
			return
		}
	}
}

// FormatEntry formats entry as a single line.
func FormatEntry(entry Entry) string {
	var b strings.Builder
	switch entry.Level {
	case LevelError:
		b.WriteString("[ERROR] ")
	case LevelWarning:
		b.WriteString("[WARNING] ")
	case LevelInfo:
		b.WriteString("[INFO] ")
	case LevelDebug:
		b.WriteString("[DEBUG] ")
	}
	if entry.Job != "" {
		b.WriteString(entry.Job + ": ")
	}
	if entry.Src != "" {
		b.WriteString(strings.ToUpper(entry.Src[:1]) + entry.Src[1:] + ": ")
	}
	b.WriteString(entry.Msg)
	return b.String()
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return newEvent(l, LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return newEvent(l, LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return newEvent(l, LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return newEvent(l, LevelDebug)
}

// Func adapts a function to ILogger.
type Func func(Entry)

// Log calls f.
func (f Func) Log(entry Entry) { f(entry) }

// NewEvent starts an event on any ILogger.
func NewEvent(logger ILogger, level Level) *Event {
	return newEvent(logger, level)
}
