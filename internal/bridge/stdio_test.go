package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daikw/cardspeak/internal/events"
	"github.com/daikw/cardspeak/internal/settings"
	"github.com/daikw/cardspeak/internal/speech"
)

func TestServeStdio_Replies(t *testing.T) {
	r, _, _, _ := newRouter(t)
	in := strings.NewReader(strings.Join([]string{
		`{"id":"1","action":"getStatus"}`,
		``,
		`{"action":"speakingFinished"}`,
		`{bad`,
		`{"id":"2","action":"stopSpeaking"}`,
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, ServeStdio(context.Background(), in, &out, r, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "notifications and blank lines produce no reply")

	var first, second, third map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))

	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "idle", first["status"].(map[string]any)["state"])
	assert.Equal(t, false, second["success"])
	assert.Equal(t, "2", third["id"])
	assert.Equal(t, true, third["success"])
}

func TestServeStdio_ForwardsNotifications(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	audio := &MockAudioSource{}
	store := settings.NewStore(settings.NewMemoryKV(), bus)
	r := NewRouter(audio, store, &fakeOrchestrator{}, nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	lines := bufio.NewScanner(outR)

	done := make(chan error, 1)
	go func() {
		done <- ServeStdio(context.Background(), inR, outW, r, bus)
		outW.Close()
	}()

	require.Eventually(t, func() bool {
		return bus.Subscribers(events.TopicSpeechFinished) == 1
	}, time.Second, 5*time.Millisecond)

	bus.Publish(events.TopicSpeechFinished, speech.Finished{Reason: speech.ReasonStopped})
	require.True(t, lines.Scan())
	assert.JSONEq(t, `{"action":"speakingFinished","reason":"stopped"}`, lines.Text())

	_, err := io.WriteString(inW, `{"id":"s","action":"saveSettings","settings":{"ttsEnabled":false,"speed":1}}`+"\n")
	require.NoError(t, err)

	// the reply and the settingsChanged broadcast may arrive in either order
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		require.True(t, lines.Scan())
		var msg map[string]any
		require.NoError(t, json.Unmarshal(lines.Bytes(), &msg))
		if msg["action"] == ActionSettingsChanged {
			got["notification"] = true
			assert.Equal(t, false, msg["settings"].(map[string]any)["ttsEnabled"])
		} else {
			got["reply"] = true
			assert.Equal(t, "s", msg["id"])
		}
	}
	assert.True(t, got["notification"] && got["reply"])

	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ServeStdio did not return after input closed")
	}
}
