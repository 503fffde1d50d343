package commands

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/semsync/cache"
	"github.com/c360studio/semsync/config"
	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/events"
	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/llm"
	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/metrics"
	"github.com/c360studio/semsync/permission"
	"github.com/c360studio/semsync/schema"
	"github.com/c360studio/semsync/synctask"
	"github.com/c360studio/semsync/tokens"
	"github.com/c360studio/semsync/tool"
	"github.com/c360studio/semsync/tools"
	"github.com/c360studio/semsync/transform"
	"github.com/c360studio/semsync/transform/blobsink"
	"github.com/c360studio/semsync/transform/graphsink"
	"github.com/c360studio/semsync/transform/vectorsink"

	// Register connector factories via init().
	_ "github.com/c360studio/semsync/connector/webpage"
)

// App wires the platform components for the CLI commands.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *kvstore.NATS
	credStore kvstore.Store
	broker    *messaging.NATS
	blobConn  *nats.Conn

	blobs     *blobsink.NATS
	vector    *vectorsink.Sink
	retriever *vectorsink.Retriever

	caches     *cache.Manager
	metrics    *metrics.Metrics
	completer  *llm.Client
	registry   *tool.Registry
	perms      *permission.Manager
	tasks      *synctask.Manager
	runner     *connector.Runner
	dispatcher *events.Dispatcher
	connTokens *tokens.Service
	toolTokens *tokens.Service
}

// newApp creates the application from configuration.
func newApp(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Start connects to NATS and builds the component graph.
func (a *App) Start(ctx context.Context) error {
	a.store = kvstore.NewNATS(kvstore.NATSConfig{
		URL:    a.cfg.NATS.URL,
		Bucket: a.cfg.NATS.KVBucket,
	}, a.logger)
	if err := a.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect KV store: %w", err)
	}

	a.credStore = kvstore.Store(a.store)
	if a.cfg.Creds.KeyFile != "" {
		key, err := loadCredentialKey(a.cfg.Creds.KeyFile)
		if err != nil {
			return err
		}
		encrypted, err := kvstore.NewEncrypted(a.store, key)
		if err != nil {
			return fmt.Errorf("wrap credential store: %w", err)
		}
		a.credStore = encrypted
	} else {
		a.logger.Warn("Credential encryption disabled; set credentials.key_file")
	}

	broker, err := messaging.NewNATS(ctx, messaging.NATSConfig{
		URL:    a.cfg.NATS.URL,
		Stream: a.cfg.NATS.Stream,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	a.broker = broker

	// The blob store rides its own connection so object-store traffic
	// does not head-of-line block event consumption.
	conn, err := nats.Connect(a.cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect blob store: %w", err)
	}
	a.blobConn = conn
	blobs, err := blobsink.NewNATS(ctx, conn, a.cfg.NATS.BlobBucket, a.logger)
	if err != nil {
		return fmt.Errorf("open blob bucket: %w", err)
	}
	a.blobs = blobs

	endpoint := llm.Endpoint{
		BaseURL: a.cfg.LLM.BaseURL,
		APIKey:  a.cfg.LLM.APIKey,
		Model:   a.cfg.LLM.Model,
	}

	vector, err := vectorsink.New(vectorsink.Config{
		PersistPath: a.cfg.Vector.PersistPath,
		Collection:  a.cfg.Vector.Collection,
	}, llm.NewEmbeddingClient(endpoint), a.logger)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	a.vector = vector
	a.retriever = vectorsink.NewRetriever(vectorsink.RetrieverConfig{
		TopK:          a.cfg.Vector.TopK,
		MinSimilarity: a.cfg.Vector.MinSimilarity,
	}, vector)

	validator, err := schema.NewDefaultValidator()
	if err != nil {
		return fmt.Errorf("compile graph schemas: %w", err)
	}
	graph := graphsink.New(validator, broker, a.logger)

	orchestrator := transform.NewOrchestrator(blobs, vector, graph, a.logger)
	a.runner = connector.NewRunner(a.store, orchestrator, blobs, vector, graph, broker, a.logger)
	a.tasks = synctask.NewManager(a.logger)
	a.dispatcher = events.NewDispatcher(a.store, a.runner, a.tasks, broker, a.logger)

	a.caches, err = cache.NewManager(a.cfg.Cache)
	if err != nil {
		return fmt.Errorf("create caches: %w", err)
	}

	a.metrics = metrics.New()
	a.metrics.ObserveCaches(a.caches)

	a.completer = llm.NewClient(endpoint,
		llm.WithLogger(a.logger),
		llm.WithResponseCache(a.caches.LLM()))

	a.connTokens = tokens.NewService("connectors", a.credStore, broker, a.logger)
	a.toolTokens = tokens.NewService("toolsets", a.credStore, broker, a.logger)

	a.perms = permission.NewManager()
	a.registry = tool.NewRegistry()
	if err := tools.Register(a.registry, tools.Deps{
		Retriever: a.retriever,
		Store:     a.store,
		Producer:  broker,
	}); err != nil {
		return err
	}

	a.logger.Info("Components initialized",
		"nats", a.cfg.NATS.URL,
		"connectors", strings.Join(connector.RegisteredTypes(), ","))
	return nil
}

// oauthClient names one OAuth2 client registration.
type oauthClient struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	TokenURL     string   `json:"tokenUrl"`
	Scopes       []string `json:"scopes,omitempty"`
}

func (c *oauthClient) provider() *tokens.OAuthProvider {
	return tokens.NewOAuthProvider(c.ClientID, c.ClientSecret, c.TokenURL, c.Scopes)
}

// oauthAuth is the connector Auth shape for OAuth-backed sources.
type oauthAuth struct {
	OAuth *oauthClient `json:"oauth,omitempty"`
}

// registerCredentials schedules refresh for every configured OAuth
// connector with stored token material. Connectors without OAuth auth or
// without a stored credential are skipped.
func (a *App) registerCredentials(ctx context.Context) {
	for _, name := range connector.RegisteredTypes() {
		cfg, err := connector.LoadConfig(ctx, a.store, name)
		if err != nil {
			continue
		}
		var auth oauthAuth
		if len(cfg.Auth) == 0 || json.Unmarshal(cfg.Auth, &auth) != nil || auth.OAuth == nil {
			continue
		}

		path := fmt.Sprintf(kvstore.PathConnectorCreds, name)
		raw, err := a.credStore.Get(ctx, path)
		if err != nil {
			a.logger.Warn("OAuth connector has no stored credential", "connector", name, "error", err)
			continue
		}
		cred, err := tokens.Decode(raw)
		if err != nil {
			a.logger.Warn("Stored credential is malformed", "connector", name, "error", err)
			continue
		}

		a.connTokens.Register(name, path, auth.OAuth.provider(), cred.ExpiresAt)
		a.logger.Info("Credential refresh scheduled", "connector", name, "expires_at", cred.ExpiresAt)
	}
}

// toolsetCredsPrefix covers every per-user toolset credential path.
const toolsetCredsPrefix = "/services/toolsets/"

// watchToolsetCredentials keeps the toolsets refresh service aligned with
// the credential store: existing and newly written credentials are
// scheduled, deleted ones unregistered. Blocks until ctx is done.
func watchToolsetCredentials(ctx context.Context, store kvstore.Store, svc *tokens.Service, logger *slog.Logger) error {
	entries, err := store.Watch(ctx, toolsetCredsPrefix)
	if err != nil {
		return fmt.Errorf("watch toolset credentials: %w", err)
	}
	for entry := range entries {
		id := strings.TrimPrefix(entry.Key, toolsetCredsPrefix)
		if entry.Operation == kvstore.OpDelete {
			svc.Unregister(id)
			logger.Info("Toolset credential removed", "credential_id", id)
			continue
		}

		cred, err := tokens.Decode(entry.Value)
		if err != nil {
			logger.Warn("Skipping malformed toolset credential", "key", entry.Key, "error", err)
			continue
		}
		if cred.Toolset == "" {
			logger.Warn("Toolset credential names no toolset type", "key", entry.Key)
			continue
		}

		raw, err := store.Get(ctx, fmt.Sprintf(kvstore.PathToolsetOAuth, cred.Toolset))
		if err != nil {
			logger.Warn("No OAuth client for toolset", "toolset", cred.Toolset, "error", err)
			continue
		}
		var client oauthClient
		if err := json.Unmarshal(raw, &client); err != nil {
			logger.Warn("Malformed toolset OAuth client", "toolset", cred.Toolset, "error", err)
			continue
		}

		svc.Register(id, entry.Key, client.provider(), cred.ExpiresAt)
		logger.Info("Toolset credential refresh scheduled", "credential_id", id, "toolset", cred.Toolset)
	}
	return ctx.Err()
}

// Stop releases the NATS connections.
func (a *App) Stop() {
	if a.broker != nil {
		a.broker.Close()
	}
	if a.blobConn != nil {
		a.blobConn.Close()
	}
	if a.store != nil {
		_ = a.store.Disconnect()
	}
}

// loadCredentialKey reads the 32-byte AES key, accepting raw or
// hex-encoded contents.
func loadCredentialKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential key: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) == 64 {
		if key, err := hex.DecodeString(trimmed); err == nil {
			return key, nil
		}
	}
	if len(trimmed) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes (raw or hex), got %d", len(trimmed))
	}
	return []byte(trimmed), nil
}
