package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/daikw/cardspeak/internal/events"
	"github.com/daikw/cardspeak/internal/settings"
	"github.com/daikw/cardspeak/internal/speech"
)

const maxLineSize = 1 << 20

// ForwardNotifications calls emit for every finished and settings event until
// ctx is canceled or the bus closes. A nil sub returns at once.
func ForwardNotifications(ctx context.Context, sub events.Subscriber, emit func(Notification)) {
	if sub == nil {
		return
	}

	finished, unsubFinished := sub.Subscribe(events.TopicSpeechFinished)
	defer unsubFinished()
	changed, unsubChanged := sub.Subscribe(events.TopicSettingsChanged)
	defer unsubChanged()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-finished:
			if !ok {
				return
			}
			if f, ok := ev.(speech.Finished); ok {
				emit(FinishedNotification(f))
			}
		case ev, ok := <-changed:
			if !ok {
				return
			}
			if s, ok := ev.(settings.Settings); ok {
				emit(SettingsNotification(s))
			}
		}
	}
}

// lineWriter serializes JSON lines written from several goroutines
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) writeLine(data []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	return nil
}

// ServeStdio runs the protocol over newline-delimited JSON: one envelope per
// input line, one reply or notification per output line. It returns when in
// is exhausted or ctx is canceled.
func ServeStdio(ctx context.Context, in io.Reader, out io.Writer, router *Router, sub events.Subscriber) error {
	ctx, cancel := context.WithCancel(ctx)
	lw := &lineWriter{w: out}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ForwardNotifications(ctx, sub, func(n Notification) {
			data, err := json.Marshal(n)
			if err != nil {
				log.Warn().Err(err).Msg("Could not encode notification")
				return
			}
			if err := lw.writeLine(data); err != nil {
				log.Debug().Err(err).Msg("Dropping notification")
			}
		})
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		reply, err := router.HandleJSON(ctx, line)
		if err != nil {
			log.Warn().Err(err).Msg("Message rejected")
		}
		if reply == nil {
			continue
		}
		if err := lw.writeLine(reply); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read messages: %w", err)
	}
	return nil
}
