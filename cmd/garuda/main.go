// Command garuda is the thin wiring binary: it loads configuration, builds
// one copy of the full plugin/controller stack, and then either forks one
// child process per configured channel (the parent role) or runs the one
// channel plugin it was re-exec'd for (the child role), grounded on
// original_source/garuda/__init__.py's Garuda.__init__/start/stop and
// GAChannelsController's fork-per-channel model.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dogild/garuda/internal/channels"
	"github.com/dogild/garuda/internal/config"
	"github.com/dogild/garuda/internal/core"
	"github.com/dogild/garuda/internal/logic"
	"github.com/dogild/garuda/internal/operations"
	"github.com/dogild/garuda/internal/permissions"
	"github.com/dogild/garuda/internal/plugins"
	authplugins "github.com/dogild/garuda/internal/plugins/auth"
	channelplugins "github.com/dogild/garuda/internal/plugins/channel"
	logicplugins "github.com/dogild/garuda/internal/plugins/logic"
	permissionplugins "github.com/dogild/garuda/internal/plugins/permissions"
	storageplugins "github.com/dogild/garuda/internal/plugins/storage"
	"github.com/dogild/garuda/internal/push"
	"github.com/dogild/garuda/internal/ratelimit"
	"github.com/dogild/garuda/internal/redisstore"
	"github.com/dogild/garuda/internal/sdk"
	"github.com/dogild/garuda/internal/secrets"
	"github.com/dogild/garuda/internal/sessions"
	"github.com/dogild/garuda/internal/storage"
)

// referenceSchema is the built-in two-level hierarchy cmd/garuda registers
// when no deployment-specific SDK has been wired in, so the binary is
// runnable standalone rather than requiring a generated domain model first.
var referenceSchema = sdk.Schema{"accounts": {"resources"}}

const referenceRootRestName = "accounts"

func main() {
	cfg := config.MustLoad()
	configureLogging(cfg.LogLevel)

	secretsManager, err := secrets.NewManager(secrets.LoadConfig())
	if err != nil {
		slog.Error("garuda: failed to initialize secrets manager", "error", err)
		os.Exit(1)
	}
	defer secretsManager.Close()

	garudaUUID := uuid.NewString()
	ctx := context.Background()

	registry, coreCtl, err := buildStack(ctx, garudaUUID, cfg, secretsManager)
	if err != nil {
		slog.Error("garuda: failed to build controller stack", "error", err)
		os.Exit(1)
	}

	if identifier, isChild := channels.ChildIdentifier(); isChild {
		runChild(ctx, identifier, registry, coreCtl)
		return
	}

	runParent(ctx, garudaUUID, cfg, registry, coreCtl)
}

// buildStack registers every reference plugin and wires the six
// sub-controllers and the core controller together. Both the parent and every forked child call this
// with identical configuration, matching the source's
// GAChannelsController spawning one GACoreController per child from the
// same sdks_info/redis_info/plugins list the parent was built with.
func buildStack(ctx context.Context, garudaUUID string, cfg *config.Config, secretsManager *secrets.Manager) (*plugins.Registry, *core.Controller, error) {
	registry := plugins.NewRegistry()

	redisPassword := cfg.RedisPassword
	if redisPassword == "" {
		redisPassword = secretsManager.GetOrDefault(ctx, "redis_password", "")
	}
	store, err := redisstore.Open(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: redisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	library := sdk.NewLibrary()
	library.Register(sdk.DefaultIdentifier, sdk.NewReferenceBundle(referenceRootRestName, referenceSchema))

	registry.RegisterStorage(storageplugins.NewMemoryStorage(library))
	registry.RegisterPermissions(permissionplugins.NewOwnerPlugin())
	registerAuthPlugin(ctx, registry, cfg, secretsManager, library)
	registerLogicPlugins(ctx, registry, cfg, secretsManager)

	sessionsCtl := sessions.NewController(store, library, cfg.SessionTTL)
	permissionsCtl := permissions.NewController(registry)
	storageCtl := storage.NewController(registry)
	logicCtl := logic.NewController(registry, cfg.LogicHookDeadline)
	operationsCtl := operations.NewController(storageCtl, permissionsCtl, logicCtl)
	pushCtl := push.NewController(store.Client, permissionsCtl)

	coreCtl := core.NewController(garudaUUID, registry, operationsCtl, sessionsCtl, pushCtl)
	if cfg.RateLimitPerSecond > 0 {
		coreCtl.SetRateLimiter(ratelimit.New(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst))
	}

	registerChannelPlugins(registry, cfg, coreCtl, pushCtl)

	return registry, coreCtl, nil
}

func registerAuthPlugin(ctx context.Context, registry *plugins.Registry, cfg *config.Config, secretsManager *secrets.Manager, library *sdk.Library) {
	secret, err := secretsManager.Get(ctx, "jwt_secret")
	if err != nil || secret == "" {
		slog.Warn("garuda: no jwt_secret configured, falling back to the fixed-identity dev auth plugin")
		registry.RegisterAuthentication(authplugins.NewDevPlugin("dev-user", "dev-api-key", "Development User"))
		return
	}

	jwtPlugin, err := authplugins.NewJWTPlugin([]byte(secret), cfg.JWTAccessExpiry, library)
	if err != nil {
		slog.Error("garuda: failed to build jwt auth plugin, falling back to dev plugin", "error", err)
		registry.RegisterAuthentication(authplugins.NewDevPlugin("dev-user", "dev-api-key", "Development User"))
		return
	}
	registry.RegisterAuthentication(jwtPlugin)
}

// registerLogicPlugins wires the reference side-effect plugins in when their
// deployment configures them, each feeding a SPEC_FULL logic-plugin
// component so the k8s.io and aws-sdk-go-v2/s3 dependency clusters they
// exercise have a live call site in the running binary rather than only in
// their own package's tests.
func registerLogicPlugins(ctx context.Context, registry *plugins.Registry, cfg *config.Config, secretsManager *secrets.Manager) {
	if cfg.K8sProvisionerRestName != "" {
		registry.RegisterLogic(logicplugins.NewK8sProvisioner(logicplugins.K8sProvisionerConfig{
			RestName:       cfg.K8sProvisionerRestName,
			Namespace:      cfg.K8sNamespace,
			Kubeconfig:     cfg.K8sKubeconfig,
			ContainerImage: cfg.K8sContainerImage,
		}))
	}

	if cfg.AuditArchiveBucket != "" {
		accessKeyID := secretsManager.GetOrDefault(ctx, "aws_access_key_id", "")
		secretAccessKey := secretsManager.GetOrDefault(ctx, "aws_secret_access_key", "")

		archive, err := logicplugins.NewAuditArchive(ctx, logicplugins.AuditArchiveConfig{
			Bucket:          cfg.AuditArchiveBucket,
			Region:          cfg.AuditArchiveRegion,
			Endpoint:        cfg.AuditArchiveEndpoint,
			Prefix:          cfg.AuditArchivePrefix,
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		})
		if err != nil {
			slog.Error("garuda: failed to build audit archive logic plugin, skipping", "error", err)
		} else {
			registry.RegisterLogic(archive)
		}
	}
}

func registerChannelPlugins(registry *plugins.Registry, cfg *config.Config, coreCtl channelplugins.CoreFacade, pushCtl channelplugins.PushFacade) {
	for _, identifier := range cfg.Channels {
		switch identifier {
		case "websocket":
			registry.RegisterChannel(channelplugins.NewWebSocket(fmt.Sprintf(":%d", cfg.Port), coreCtl, pushCtl))
		case "loopback":
			registry.RegisterChannel(channelplugins.NewLoopback(coreCtl))
		default:
			slog.Warn("garuda: unknown channel identifier, skipping", "channel", identifier)
		}
	}
}

// runParent forks one process per configured channel and keeps this
// process's own controller stack running (for the background session
// expiry watcher) until asked to stop, mirroring Garuda.start/stop running
// both the channels controller and a "master" core controller.
func runParent(ctx context.Context, garudaUUID string, cfg *config.Config, registry *plugins.Registry, coreCtl *core.Controller) {
	if cfg.Banner {
		printBanner(garudaUUID, registry)
	}

	if err := coreCtl.Start(ctx); err != nil {
		slog.Error("garuda: failed to start core controller", "error", err)
		os.Exit(1)
	}

	channelsCtl := channels.NewController(garudaUUID, cfg.Channels)
	if err := channelsCtl.Start(); err != nil {
		slog.Error("garuda: failed to fork channel processes", "error", err)
		coreCtl.Stop()
		os.Exit(1)
	}

	slog.Info("garuda: up and ready", "channels", cfg.Channels, "pids", channelsCtl.PIDs())

	if cfg.RunLoop {
		stopCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-stopCtx.Done()
	}

	channelsCtl.Stop()
	coreCtl.Stop()
	slog.Info("garuda: stopped")
}

// runChild runs the single channel plugin identifier names in-process and
// blocks until it returns, matching the source's fork branch: build a core
// controller, did_fork, run (blocking), did_exit, exit.
func runChild(ctx context.Context, identifier string, registry *plugins.Registry, coreCtl *core.Controller) {
	if err := coreCtl.Start(ctx); err != nil {
		slog.Error("garuda: child failed to start core controller", "channel", identifier, "error", err)
		os.Exit(1)
	}
	defer coreCtl.Stop()

	stopCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := channels.RunChild(stopCtx, identifier, registry); err != nil {
		slog.Error("garuda: channel exited with an error", "channel", identifier, "error", err)
		os.Exit(1)
	}
}

func configureLogging(level string) {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel})))
}

func printBanner(garudaUUID string, registry *plugins.Registry) {
	channelCount := len(registry.Channels())
	storageCount := len(registry.StorageProviders())
	authCount := len(registry.AuthProviders())
	permCount := len(registry.PermissionsPlugins())
	logicCount := len(registry.LogicPlugins())

	fmt.Printf(`
                   1y9~
         .,:---,      "9"R            Garuda
     ,N"` + "`" + `    ,jyjjRN,   ` + "`" + `n ?          ==========
   #^   y&T        ` + "`" + `"hQ   y 'y
 (L  ;R@l                 ^a \w       pid: %d  worker: %s
(   #^4                    Q  @
Q  # ,W                    W  ]V      %d channel(s), %d storage plugin(s)
|# @L Q                    W   Q|     %d auth plugin(s), %d permission plugin(s)
 V @  Vp                  ;   #^[     %d logic plugin(s)
 ^.R[ 'Q@               ,4  .& ,T
  (QQ  'Q4p           (R  ,BL (T
    hQ   H,` + "`" + `"QQQL}Q"` + "`" + `,;&RR   x
      "g   YQ,    ` + "```" + `     :F` + "`" + `
        "E,  ` + "`" + `"B@MD&DR@B` + "`" + `
            '"N***xD"` + "`" + `

`, os.Getpid(), garudaUUID, channelCount, storageCount, authCount, permCount, logicCount)
}
