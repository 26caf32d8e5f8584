package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fortio.org/assert"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err == nil {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		}
		w.WriteHeader(status)
	}
}

func (c *collector) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestReporterPostsEvents(t *testing.T) {
	c := &collector{}
	server := httptest.NewServer(c.handler(http.StatusOK))
	defer server.Close()

	r := New(Config{Address: server.URL, Enabled: true, AnonymizedID: "abc", Version: "0.1.0"})
	assert.NoError(t, r.LogCall("get_historical_features"))
	assert.NoError(t, r.LogException("materialize", fmt.Errorf("view x: %w", errors.New("boom"))))
	assert.NoError(t, r.Close(context.Background()))

	events := c.received()
	assert.Equal(t, 2, len(events))
	assert.Equal(t, "get_historical_features", events[0].FunctionName)
	assert.Equal(t, "abc", events[0].AnonymizedID)
	assert.Equal(t, "0.1.0", events[0].Version)
	assert.False(t, events[0].IsTest)
	assert.True(t, events[0].OS != "")
	_, err := time.Parse(time.RFC3339Nano, events[0].Timestamp)
	assert.NoError(t, err)
	assert.Equal(t, "errors.errorString", events[1].ErrorType)
}

func TestOnlineCallsAreSampled(t *testing.T) {
	c := &collector{}
	server := httptest.NewServer(c.handler(http.StatusOK))
	defer server.Close()

	r := New(Config{Address: server.URL, Enabled: true, AnonymizedID: "abc", IsTest: true})
	for i := 0; i < OnlineSampleRate+1; i++ {
		assert.NoError(t, r.LogCall("get_online_features"))
	}
	assert.Equal(t, 2, len(c.received()))
}

func TestTestModePropagatesErrors(t *testing.T) {
	c := &collector{}
	server := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer server.Close()

	r := New(Config{Address: server.URL, Enabled: true, AnonymizedID: "abc", IsTest: true})
	assert.NotEqual(t, nil, r.LogCall("materialize"))

	// outside test mode delivery failures are absorbed
	r = New(Config{Address: server.URL, Enabled: true, AnonymizedID: "abc"})
	assert.NoError(t, r.LogCall("materialize"))
	assert.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 2, len(c.received()))
}

func TestDisabledReporter(t *testing.T) {
	_, ok := New(Config{Address: "http://127.0.0.1:1", Enabled: false}).(Noop)
	assert.True(t, ok)
	_, ok = New(Config{Enabled: true, AnonymizedID: "abc"}).(Noop)
	assert.True(t, ok)
}

func TestAnonymizedIDIsPersisted(t *testing.T) {
	home := t.TempDir()
	config := Config{Address: "http://127.0.0.1:1", Enabled: true, HomeDir: home}

	first, ok := New(config).(*HTTPReporter)
	assert.True(t, ok)
	defer first.Close(context.Background())
	second := New(config).(*HTTPReporter)
	defer second.Close(context.Background())
	assert.Equal(t, first.AnonymizedID(), second.AnonymizedID())

	data, err := os.ReadFile(filepath.Join(home, ".featurestore", "usage"))
	assert.NoError(t, err)
	assert.Equal(t, first.AnonymizedID(), string(data))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(Env_Usage, "False")
	t.Setenv(Env_Usage_Test, "True")
	t.Setenv(Env_Usage_ID, "forced")
	config := ConfigFromEnv("1.0.0")
	assert.False(t, config.Enabled)
	assert.True(t, config.IsTest)
	assert.Equal(t, "forced", config.AnonymizedID)
	assert.Equal(t, "1.0.0", config.Version)
}

type typedError struct{}

func (typedError) Error() string { return "typed" }

func TestErrorType(t *testing.T) {
	assert.Equal(t, "usage.typedError", ErrorType(fmt.Errorf("a: %w", fmt.Errorf("b: %w", typedError{}))))
	assert.Equal(t, "", ErrorType(nil))
}

func TestEventsQueuedBeforeCloseAreDelivered(t *testing.T) {
	c := &collector{}
	server := httptest.NewServer(c.handler(http.StatusOK))
	defer server.Close()

	r := New(Config{Address: server.URL, Enabled: true, AnonymizedID: "abc", QueueSize: 1000}).(*HTTPReporter)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, r.LogCall("materialize"))
			}
		}()
	}
	assert.NoError(t, r.Close(context.Background()))
	wg.Wait()

	// nothing is accepted once closed
	assert.NoError(t, r.LogCall("materialize"))
	assert.Equal(t, int(r.queued.Load()), len(c.received()))
}
