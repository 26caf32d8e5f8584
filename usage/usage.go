package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	Env_Usage         = "FEATURESTORE_USAGE"
	Env_Usage_Test    = "FEATURESTORE_IS_USAGE_TEST"
	Env_Usage_ID      = "FEATURESTORE_USAGE_ID"
	Env_Usage_Address = "FEATURESTORE_USAGE_ADDRESS"

	// one get_online_features call in this many is reported
	OnlineSampleRate = 10000

	usageDir       = ".featurestore"
	usageFile      = "usage"
	defaultQueue   = 256
	requestTimeout = 3 * time.Second
)

// Event is the payload posted for a call or a failure. FunctionName is set
// for calls, ErrorType for failures.
type Event struct {
	FunctionName string `json:"function_name,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	AnonymizedID string `json:"anonymized_id"`
	Timestamp    string `json:"timestamp"`
	Version      string `json:"version"`
	OS           string `json:"os"`
	IsTest       bool   `json:"is_test"`
}

// Reporter records calls of the public client. Implementations must not
// block the caller; errors are only returned in test mode.
type Reporter interface {
	LogCall(functionName string) error
	LogException(functionName string, err error) error
	Close(ctx context.Context) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) LogCall(string) error             { return nil }
func (Noop) LogException(string, error) error { return nil }
func (Noop) Close(context.Context) error      { return nil }

type Config struct {
	// Address receives the events as json POST requests. Reporting is off
	// when it is empty.
	Address string
	Enabled bool
	// IsTest sends events synchronously and returns delivery errors.
	IsTest bool
	// AnonymizedID overrides the id stored under HomeDir.
	AnonymizedID string
	HomeDir      string
	Version      string
	QueueSize    int
	Client       *http.Client
	Logger       *zap.Logger
}

// ConfigFromEnv reads the switches from the environment. Reporting is on
// unless FEATURESTORE_USAGE is set to something other than True.
func ConfigFromEnv(version string) Config {
	home, _ := os.UserHomeDir()
	return Config{
		Address:      os.Getenv(Env_Usage_Address),
		Enabled:      envOr(Env_Usage, "True") == "True",
		IsTest:       envOr(Env_Usage_Test, "False") == "True",
		AnonymizedID: os.Getenv(Env_Usage_ID),
		HomeDir:      home,
		Version:      version,
	}
}

func envOr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

// HTTPReporter posts events from a background goroutine. Events are dropped
// when the queue is full.
type HTTPReporter struct {
	config Config
	client *http.Client
	logger *zap.Logger
	id     string

	onlineCalls atomic.Int64
	// events accepted into the queue
	queued atomic.Int64

	// mu orders enqueues before Close, so the drain sees every queued event
	mu      sync.RWMutex
	closed  bool
	queue   chan *Event
	done    chan struct{}
	stopped chan struct{}
}

// New returns a Noop reporter when reporting is disabled or no id can be
// established.
func New(config Config) Reporter {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled || config.Address == "" {
		return Noop{}
	}
	id := config.AnonymizedID
	if id == "" {
		var err error
		if id, err = loadOrCreateID(config.HomeDir); err != nil {
			logger.Debug("usage reporting disabled", zap.Error(err))
			return Noop{}
		}
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				DialContext: (&net.Dialer{
					Timeout: 500 * time.Millisecond,
				}).DialContext,
			},
		}
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueue
	}

	r := &HTTPReporter{
		config:  config,
		client:  client,
		logger:  logger,
		id:      id,
		queue:   make(chan *Event, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

// loadOrCreateID reads the anonymized id stored under home, writing a new
// one on first use.
func loadOrCreateID(home string) (string, error) {
	if home == "" {
		return "", errors.New("no home directory")
	}
	dir := filepath.Join(home, usageDir)
	path := filepath.Join(dir, usageFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", err
	}
	return id, nil
}

func (r *HTTPReporter) AnonymizedID() string {
	return r.id
}

func (r *HTTPReporter) LogCall(functionName string) error {
	if functionName == "get_online_features" {
		if (r.onlineCalls.Add(1)-1)%OnlineSampleRate != 0 {
			return nil
		}
	}
	return r.emit(&Event{FunctionName: functionName})
}

func (r *HTTPReporter) LogException(functionName string, err error) error {
	if err == nil {
		return nil
	}
	return r.emit(&Event{FunctionName: functionName, ErrorType: ErrorType(err)})
}

func (r *HTTPReporter) emit(event *Event) error {
	event.AnonymizedID = r.id
	event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	event.Version = r.config.Version
	event.OS = runtime.GOOS
	event.IsTest = r.config.IsTest

	if r.config.IsTest {
		return r.post(context.Background(), event)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	select {
	case r.queue <- event:
		r.queued.Add(1)
	default:
		r.logger.Debug("usage queue full, event dropped", zap.String("function", event.FunctionName))
	}
	return nil
}

func (r *HTTPReporter) run() {
	defer close(r.stopped)
	for {
		select {
		case event := <-r.queue:
			r.send(event)
		case <-r.done:
			// drain what is already queued
			for {
				select {
				case event := <-r.queue:
					r.send(event)
				default:
					return
				}
			}
		}
	}
}

func (r *HTTPReporter) send(event *Event) {
	if err := r.post(context.Background(), event); err != nil {
		r.logger.Debug("usage event not delivered", zap.Error(err))
	}
}

func (r *HTTPReporter) post(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Address, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	response, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode/100 != 2 {
		return fmt.Errorf("usage endpoint returned status %d", response.StatusCode)
	}
	return nil
}

// Close stops accepting events and waits until the queued ones are sent or
// ctx is done.
func (r *HTTPReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorType names the first error in the chain that is not a plain fmt
// wrapper, e.g. "api.FeatureNotFoundError".
func ErrorType(err error) string {
	name := ""
	for e := err; e != nil; e = errors.Unwrap(e) {
		name = strings.TrimPrefix(fmt.Sprintf("%T", e), "*")
		if name != "fmt.wrapError" {
			return name
		}
	}
	return name
}
