// Package config builds an engine from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/internal/metrics"
	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/maintkg/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/maintkg/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/extract"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	qredis "github.com/OFFIS-RIT/maintkg/backend/pkg/query/redis"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/resolve"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"
	badgerstore "github.com/OFFIS-RIT/maintkg/backend/pkg/store/badger"
	neo4jstore "github.com/OFFIS-RIT/maintkg/backend/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/maintkg/backend/pkg/store/pgx"
	sqlitestore "github.com/OFFIS-RIT/maintkg/backend/pkg/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownBackend is returned for unsupported STORE_BACKEND, LOCK_BACKEND
// or EXTRACTOR values.
var ErrUnknownBackend = errors.New("unknown backend")

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
)

// Settings is the typed view of the environment.
type Settings struct {
	StoreBackend string
	DatabaseURL  string
	SQLitePath   string
	BadgerPath   string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	SinkTimeout   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	Extractor      string
	AIChatURL      string
	AIChatKey      string
	AIExtractModel string
	AIThinking     string
	AIRps          float64
	AIParallel     int
	AIWindowTokens int

	ResolveThreshold float64
	Similarity       string
	AliasFile        string

	LockBackend    string
	LockWait       bool
	ParallelMax    int
	SegmentTimeout time.Duration
	UpdateTimeout  time.Duration
	QueryTimeout   time.Duration
	QueryMaxDepth  int
	QueryLimit     int
}

// Load reads Settings from the environment.
func Load() Settings {
	return Settings{
		StoreBackend: strings.ToLower(util.GetEnvString("STORE_BACKEND", BackendMemory)),
		DatabaseURL:  util.GetEnv("DATABASE_URL"),
		SQLitePath:   util.GetEnvString("SQLITE_PATH", "data/graph.db"),
		BadgerPath:   util.GetEnvString("BADGER_PATH", "data/badger"),

		Neo4jURI:      util.GetEnv("NEO4J_URI"),
		Neo4jUser:     util.GetEnvString("NEO4J_USER", "neo4j"),
		Neo4jPassword: util.GetEnv("NEO4J_PASSWORD"),
		Neo4jDatabase: util.GetEnv("NEO4J_DATABASE"),
		SinkTimeout:   util.GetEnvDuration("SINK_TIMEOUT", 10*time.Second),

		RedisAddr:     util.GetEnv("REDIS_ADDR"),
		RedisPassword: util.GetEnv("REDIS_PASSWORD"),
		RedisDB:       int(util.GetEnvNumeric("REDIS_DB", 0)),
		CacheTTL:      util.GetEnvDuration("CACHE_TTL", 10*time.Minute),

		Extractor:      strings.ToLower(util.GetEnvString("EXTRACTOR", "rules")),
		AIChatURL:      util.GetEnv("AI_CHAT_URL"),
		AIChatKey:      util.GetEnv("AI_CHAT_KEY"),
		AIExtractModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		AIThinking:     util.GetEnv("AI_THINKING"),
		AIRps:          util.GetEnvFloat("AI_RPS", 0),
		AIParallel:     int(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		AIWindowTokens: int(util.GetEnvNumeric("AI_WINDOW_TOKENS", 2000)),

		ResolveThreshold: util.GetEnvFloat("RESOLVE_THRESHOLD", resolve.DefaultThreshold),
		Similarity:       util.GetEnvString("RESOLVE_SIMILARITY", "levenshtein"),
		AliasFile:        util.GetEnv("ALIAS_FILE"),

		LockBackend:    strings.ToLower(util.GetEnvString("LOCK_BACKEND", "local")),
		LockWait:       util.GetEnvBool("LOCK_WAIT", false),
		ParallelMax:    int(util.GetEnvNumeric("EXTRACT_PARALLEL", 4)),
		SegmentTimeout: util.GetEnvDuration("SEGMENT_TIMEOUT", 30*time.Second),
		UpdateTimeout:  util.GetEnvDuration("UPDATE_TIMEOUT", 2*time.Minute),
		QueryTimeout:   util.GetEnvDuration("QUERY_TIMEOUT", 5*time.Second),
		QueryMaxDepth:  min(int(util.GetEnvNumeric("QUERY_MAX_DEPTH", store.DefaultMaxDepth)), store.MaxDepthLimit),
		QueryLimit:     int(util.GetEnvNumeric("QUERY_LIMIT", 20)),
	}
}

// FromEnv loads Settings and builds the engine configuration.
func FromEnv(ctx context.Context) (engine.Config, error) {
	return Build(ctx, Load())
}

// Build opens every backend named by s. On error, whatever was opened is
// closed again.
func Build(ctx context.Context, s Settings) (cfg engine.Config, err error) {
	schema := common.DefaultSchema()
	cfg = engine.Config{
		Schema:         schema,
		LockWait:       s.LockWait,
		ParallelMax:    s.ParallelMax,
		SegmentTimeout: s.SegmentTimeout,
		UpdateTimeout:  s.UpdateTimeout,
		QueryTimeout:   s.QueryTimeout,
		QueryMaxDepth:  s.QueryMaxDepth,
		QueryLimit:     s.QueryLimit,
		Hooks:          metrics.Hooks(),
	}
	defer func() {
		if err != nil {
			for i := len(cfg.Closers) - 1; i >= 0; i-- {
				_ = cfg.Closers[i]()
			}
			cfg.Closers = nil
		}
	}()

	var pool *pgxpool.Pool
	needPool := s.StoreBackend == BackendPostgres || s.LockBackend == BackendPostgres
	if needPool {
		if s.DatabaseURL == "" {
			return cfg, errors.New("DATABASE_URL is required for the postgres backend")
		}
		pool, err = pgxpool.New(ctx, s.DatabaseURL)
		if err != nil {
			return cfg, fmt.Errorf("connect to database: %w", err)
		}
		cfg.Closers = append(cfg.Closers, func() error { pool.Close(); return nil })
	}

	graphOpts := []store.Option{
		store.OnSinkError(metrics.ObserveSinkFailure),
		store.WithSinkTimeout(s.SinkTimeout),
	}

	switch s.StoreBackend {
	case BackendMemory, "":
	case BackendPostgres:
		if err = pgxstore.Migrate(s.DatabaseURL); err != nil {
			return cfg, err
		}
		j := pgxstore.NewGraphJournal(pool)
		graphOpts = append(graphOpts, store.WithJournal(j))
	case BackendSQLite:
		j, oerr := sqlitestore.Open(ctx, s.SQLitePath)
		if oerr != nil {
			return cfg, oerr
		}
		cfg.Closers = append(cfg.Closers, j.Close)
		graphOpts = append(graphOpts, store.WithJournal(j))
	case BackendBadger:
		j, oerr := badgerstore.Open(badgerstore.Config{Path: s.BadgerPath, SyncWrites: true})
		if oerr != nil {
			return cfg, oerr
		}
		cfg.Closers = append(cfg.Closers, j.Close)
		graphOpts = append(graphOpts, store.WithJournal(j))
	default:
		return cfg, fmt.Errorf("%w: STORE_BACKEND=%s", ErrUnknownBackend, s.StoreBackend)
	}

	if s.Neo4jURI != "" {
		sink, serr := neo4jstore.New(ctx, neo4jstore.Config{
			URI:      s.Neo4jURI,
			User:     s.Neo4jUser,
			Password: s.Neo4jPassword,
			Database: s.Neo4jDatabase,
		})
		if serr != nil {
			return cfg, serr
		}
		cfg.Closers = append(cfg.Closers, func() error { return sink.Close(context.Background()) })
		graphOpts = append(graphOpts, store.WithSink(sink))
	}
	cfg.Graph = store.New(graphOpts...)

	switch s.LockBackend {
	case "local", "":
		cfg.Locker = leaselock.NewLocal()
	case BackendPostgres:
		cfg.Locker = leaselock.New(pool)
	default:
		return cfg, fmt.Errorf("%w: LOCK_BACKEND=%s", ErrUnknownBackend, s.LockBackend)
	}

	aliases := resolve.NewAliasTable()
	if s.AliasFile != "" {
		aliases, err = resolve.LoadAliasFile(s.AliasFile)
		if err != nil {
			return cfg, err
		}
		logger.Info("[Config][Build] alias table loaded", "file", s.AliasFile, "entries", aliases.Len())
	}
	cfg.Resolver = resolve.New(resolve.Config{
		Threshold:  s.ResolveThreshold,
		Similarity: resolve.NewSimilarity(s.Similarity),
		Aliases:    aliases,
		Schema:     schema,
	})

	cfg.Extractor, err = extractor(s, schema)
	if err != nil {
		return cfg, err
	}

	if s.RedisAddr != "" {
		cache, client, cerr := qredis.New(ctx, qredis.Config{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			TTL:      s.CacheTTL,
		})
		if cerr != nil {
			return cfg, cerr
		}
		cfg.Closers = append(cfg.Closers, client.Close)
		cfg.Cache = cache
	}

	logger.Info("[Config][Build] engine configured",
		"store", s.StoreBackend,
		"lock", s.LockBackend,
		"extractor", s.Extractor,
		"neo4j", s.Neo4jURI != "",
		"cache", s.RedisAddr != "",
	)
	return cfg, nil
}

func extractor(s Settings, schema *common.Schema) (extract.Extractor, error) {
	var client ai.ExtractionClient
	switch s.Extractor {
	case "rules", "":
		return extract.NewRuleExtractor(schema), nil
	case "ollama":
		c, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ExtractionModel:       s.AIExtractModel,
			BaseURL:               s.AIChatURL,
			ApiKey:                s.AIChatKey,
			MaxConcurrentRequests: int64(s.AIParallel),
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		client = c
	case "openai":
		client = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ExtractionModel: s.AIExtractModel,
			ChatURL:         s.AIChatURL,
			ChatKey:         s.AIChatKey,
		})
	default:
		return nil, fmt.Errorf("%w: EXTRACTOR=%s", ErrUnknownBackend, s.Extractor)
	}
	var opts []ai.GenerateOption
	if s.AIThinking != "" {
		opts = append(opts, ai.WithThinking(s.AIThinking))
	}
	return extract.NewLLMExtractor(extract.NewLLMExtractorParams{
		Client:            client,
		RequestsPerSecond: s.AIRps,
		WindowTokens:      s.AIWindowTokens,
		Options:           opts,
	}), nil
}
