// Package config loads process configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"rfq-sync/bus"
	"rfq-sync/storage"
)

// Transport kinds.
const (
	TransportAzure  = "azure"
	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

// Lookup resolves one environment variable.
type Lookup func(key string) (string, bool)

type env struct {
	lookup Lookup
	errs   []error
}

func (e *env) string(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) required(key string) string {
	v := e.string(key, "")
	if v == "" {
		e.errs = append(e.errs, fmt.Errorf("missing %s", key))
	}
	return v
}

func (e *env) int(key string, def int) int {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: must be a positive integer", key))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}

func (e *env) bool(key string, def bool) bool {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return b
}

func (e *env) err() error { return errors.Join(e.errs...) }

// Storage locates the Azure tables of the write model.
type Storage struct {
	ConnectionString string
	Tables           storage.TableNames
}

func (e *env) storage() Storage {
	return Storage{
		ConnectionString: e.required("STORAGE_CONNECTION_STRING"),
		Tables: storage.TableNames{
			Submissions:    e.string("SUBMISSIONS_TABLE", "Submissions"),
			Quotes:         e.string("QUOTES_TABLE", "SubmissionQuotes"),
			QuoteMessages:  e.string("QUOTE_MESSAGES_TABLE", "QuoteMessages"),
			Notifications:  e.string("NOTIFICATIONS_TABLE", "Notifications"),
			CompanyDetails: e.string("COMPANY_DETAILS_TABLE", "UserCompanyDetails"),
			Sequences:      e.string("SEQUENCES_TABLE", "Sequences"),
		},
	}
}

// Bus selects and configures the message transport.
type Bus struct {
	Transport  string
	AzureQueue bus.AzureQueueConfig
	Kafka      bus.KafkaConfig
	Consumer   bus.ConsumerConfig
}

func (e *env) bus(storageConn string) Bus {
	b := Bus{Transport: strings.ToLower(e.string("BUS_TRANSPORT", TransportAzure))}
	switch b.Transport {
	case TransportAzure:
		b.AzureQueue = bus.AzureQueueConfig{
			ConnectionString:  storageConn,
			Queue:             e.string("MESSAGES_QUEUE", "rfq-messages"),
			PoisonQueue:       e.string("MESSAGES_POISON_QUEUE", ""),
			VisibilityTimeout: e.duration("QUEUE_VISIBILITY_TIMEOUT", 30*time.Second),
			PollInterval:      e.duration("QUEUE_POLL_INTERVAL", time.Second),
		}
	case TransportKafka:
		var brokers []string
		for _, broker := range strings.Split(e.required("KAFKA_BROKERS"), ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
		b.Kafka = bus.KafkaConfig{
			Brokers:         brokers,
			Topic:           e.string("KAFKA_TOPIC", "rfq-messages"),
			GroupID:         e.string("KAFKA_GROUP_ID", "rfq-sync-worker"),
			DeadLetterTopic: e.string("KAFKA_DLQ_TOPIC", ""),
		}
	case TransportMemory:
	default:
		e.errs = append(e.errs, fmt.Errorf("invalid BUS_TRANSPORT %q", b.Transport))
	}
	b.Consumer = bus.ConsumerConfig{
		Workers:       e.int("CONSUMER_WORKERS", 4),
		BatchSize:     e.int("CONSUMER_BATCH_SIZE", 16),
		MaxAttempts:   e.int("CONSUMER_MAX_ATTEMPTS", 5),
		RetryInitial:  e.duration("CONSUMER_RETRY_INITIAL", time.Second),
		RetryMax:      e.duration("CONSUMER_RETRY_MAX", time.Minute),
		SettleTimeout: e.duration("CONSUMER_SETTLE_TIMEOUT", 10*time.Second),
	}
	return b
}

// NewTransport builds the configured transport.
func NewTransport(b Bus, logger log.FieldLogger) (bus.Transport, error) {
	switch b.Transport {
	case TransportAzure:
		return bus.NewAzureQueue(b.AzureQueue, logger)
	case TransportKafka:
		return bus.NewKafka(b.Kafka, logger)
	case TransportMemory:
		return bus.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown transport %q", b.Transport)
}

// Worker configures the sync worker process.
type Worker struct {
	Debug   bool
	Storage Storage
	Redis   string
	Bus     Bus

	SearchPrefix   string
	CacheTTL       time.Duration
	DedupTTL       time.Duration
	ClaimTTL       time.Duration
	InlineIndexing bool
	CoalesceWindow time.Duration
	PushChannel    string

	RebuildSchedule      string
	CloseExpiredSchedule string
	SchedulerPoll        time.Duration

	HealthAddr string
}

func LoadWorker() (Worker, error) { return loadWorker(os.LookupEnv) }

func loadWorker(lookup Lookup) (Worker, error) {
	e := &env{lookup: lookup}
	st := e.storage()
	w := Worker{
		Debug:                e.bool("DEBUG", false),
		Storage:              st,
		Redis:                e.required("REDIS_CONNECTION_STRING"),
		Bus:                  e.bus(st.ConnectionString),
		SearchPrefix:         e.string("SEARCH_PREFIX", "search"),
		CacheTTL:             e.duration("CACHE_TTL", 10*time.Minute),
		DedupTTL:             e.duration("DEDUPER_TTL", 24*time.Hour),
		ClaimTTL:             e.duration("DEDUPER_CLAIM_TTL", time.Minute),
		InlineIndexing:       e.bool("INLINE_INDEXING", false),
		CoalesceWindow:       e.duration("NOTIFICATION_INDEX_WINDOW", 50*time.Millisecond),
		PushChannel:          e.string("PUSH_CHANNEL", "notifications"),
		RebuildSchedule:      e.string("REBUILD_INDEX_SCHEDULE", "0 3 * * *"),
		CloseExpiredSchedule: e.string("CLOSE_EXPIRED_SCHEDULE", "*/5 * * * *"),
		SchedulerPoll:        e.duration("SCHEDULER_POLL_INTERVAL", 30*time.Second),
		HealthAddr:           ":" + e.string("HEALTH_PORT", "8081"),
	}
	return w, e.err()
}

// Auth configures bearer token validation for the stream service.
type Auth struct {
	Audience   string
	Domain     string
	TestMode   bool
	TestSecret string
}

// JWKSURL is the provider's key set location.
func (a Auth) JWKSURL() string { return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain) }

// Issuer is the expected token issuer.
func (a Auth) Issuer() string { return "https://" + a.Domain + "/" }

// Stream configures the notification stream service.
type Stream struct {
	Debug       bool
	Redis       string
	PushChannel string
	KeepAlive   time.Duration
	ListenAddr  string
	Auth        Auth
}

func LoadStream() (Stream, error) { return loadStream(os.LookupEnv) }

func loadStream(lookup Lookup) (Stream, error) {
	e := &env{lookup: lookup}
	s := Stream{
		Debug:       e.bool("DEBUG", false),
		Redis:       e.required("REDIS_CONNECTION_STRING"),
		PushChannel: e.string("PUSH_CHANNEL", "notifications"),
		KeepAlive:   e.duration("STREAM_KEEPALIVE", 25*time.Second),
		ListenAddr:  ":" + e.string("STREAM_SERVICE_PORT", "9000"),
	}
	s.Auth.TestMode = e.string("AUTH0_TEST_MODE", "") == "1"
	if s.Auth.TestMode {
		s.Auth.TestSecret = e.required("TEST_JWT_SECRET")
		s.Auth.Audience = e.string("AUTH0_AUDIENCE", "")
	} else {
		s.Auth.Audience = e.required("AUTH0_AUDIENCE")
		s.Auth.Domain = e.required("AUTH0_DOMAIN")
	}
	return s, e.err()
}

// Init configures the storage initialisation job.
type Init struct {
	Storage       Storage
	Queues        []string
	CreateTimeout time.Duration
}

func LoadInit() (Init, error) { return loadInit(os.LookupEnv) }

func loadInit(lookup Lookup) (Init, error) {
	e := &env{lookup: lookup}
	st := e.storage()
	queue := e.string("MESSAGES_QUEUE", "rfq-messages")
	return Init{
		Storage:       st,
		Queues:        []string{queue, e.string("MESSAGES_POISON_QUEUE", queue+"-poison")},
		CreateTimeout: e.duration("INIT_TIMEOUT", 2*time.Minute),
	}, e.err()
}

// RedisOptions parses a redis URL or an Azure style connection string
// "host:port,password=...,ssl=true".
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if !strings.Contains(opts.Addr, ":") {
		return nil, fmt.Errorf("redis address %q has no port", opts.Addr)
	}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(v), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

// SetupLogging applies the debug flag to the standard logger.
func SetupLogging(debug bool) {
	log.SetFormatter(&log.JSONFormatter{})
	if debug {
		log.SetLevel(log.DebugLevel)
	}
}
