package pipeline

import (
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"rfq-sync/bus"
	"rfq-sync/cache"
	"rfq-sync/commands"
	"rfq-sync/dispatch"
	"rfq-sync/domain"
	"rfq-sync/indexing"
	"rfq-sync/notify"
	"rfq-sync/push"
	"rfq-sync/search"
)

// Options assemble a System. Redis backs the search index, the cache and
// the deduper.
type Options struct {
	Store     domain.Store
	Transport bus.Transport
	Redis     redis.UniversalClient
	Push      push.Channel
	Mailer    notify.Mailer
	Logger    *log.Logger

	SearchPrefix string
	CacheTTL     time.Duration
	DedupTTL     time.Duration
	// ClaimTTL bounds how long a crashed consumer blocks a message.
	ClaimTTL time.Duration
	// InlineIndexing indexes within the request instead of through the bus.
	InlineIndexing bool
	// CoalesceWindow batches notification re-index requests. Zero uses the
	// coalescer default window.
	CoalesceWindow time.Duration
}

// System is the fully wired pipeline of one process.
type System struct {
	Commands   *commands.Service
	Dispatcher *dispatch.Dispatcher
	Publisher  *bus.Publisher
	Indexer    *indexing.Indexer
	Coalescer  *indexing.Coalescer
	Search     *search.Redis
	Views      *cache.Views
	Router     *bus.Router
}

func New(o Options) *System {
	logger := o.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if o.SearchPrefix == "" {
		o.SearchPrefix = "search"
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 24 * time.Hour
	}
	if o.Push == nil {
		// No stream service attached: pushes are dropped.
		o.Push = push.NewHub(logger)
	}

	publisher := bus.NewPublisher(o.Transport, logger)
	index := search.NewRedis(o.Redis, o.SearchPrefix)
	indexer := indexing.NewIndexer(o.Store, index, logger)
	coalescer := indexing.NewCoalescer(indexer.Notifications, o.CoalesceWindow)

	var requester indexing.Requester = indexing.NewAsync(publisher)
	if o.InlineIndexing {
		requester = indexing.NewInline(indexer, coalescer)
	}
	table := Table(Deps{
		Store: o.Store,
		Index: requester,
		Cache: cache.NewInvalidator(o.Redis, logger),
		Bus:   publisher,
	})
	dispatcher := dispatch.New(table, logger)
	svc := commands.New(o.Store, dispatcher, publisher, logger)

	router := bus.NewRouter()
	indexer.Routes(router, coalescer)
	notify.Routes(router, notify.Deps{
		Commands: svc,
		Source:   o.Store,
		Push:     o.Push,
		Mailer:   o.Mailer,
		Deduper:  bus.NewRedisDeduper(o.Redis, o.ClaimTTL, o.DedupTTL),
		Logger:   logger,
	})

	return &System{
		Commands:   svc,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Indexer:    indexer,
		Coalescer:  coalescer,
		Search:     index,
		Views:      cache.NewViews(o.Store, o.Redis, o.CacheTTL),
		Router:     router,
	}
}

// Consumer returns a consumer that routes the transport's deliveries.
func (s *System) Consumer(t bus.Transport, cfg bus.ConsumerConfig, logger *log.Logger) *bus.Consumer {
	return bus.NewConsumer(t, s.Router, cfg, logger)
}
