// Package main is the application entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/assistant"
	"tripplan-go/internal/authn"
	"tripplan-go/internal/config"
	"tripplan-go/internal/memoryservice"
	"tripplan-go/internal/metrics"
	"tripplan-go/internal/middleware"
	"tripplan-go/internal/model"
	"tripplan-go/internal/planner"
	"tripplan-go/internal/planrepo"
	"tripplan-go/internal/planservice"
	"tripplan-go/internal/poi"
	"tripplan-go/internal/prompt"
	"tripplan-go/internal/repository"
	"tripplan-go/internal/taskengine"
	"tripplan-go/internal/tool"
	transporthttp "tripplan-go/internal/transport/http"
	transportws "tripplan-go/internal/transport/ws"
	"tripplan-go/pkg/artifact"
	"tripplan-go/pkg/database"
	"tripplan-go/pkg/geocode"
	"tripplan-go/pkg/llm"
	"tripplan-go/pkg/log"
	"tripplan-go/pkg/memoryprovider"
	"tripplan-go/pkg/storage"
	"tripplan-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	metricsHistoryLimit := cfg.Metrics.HistoryLimit
	if metricsHistoryLimit <= 0 {
		metricsHistoryLimit = 500
	}
	metricsRegistry := metrics.New(metricsHistoryLimit)
	wireSharedCounters(metricsRegistry, cfg.Metrics, database.RDB)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	geocoder := geocode.NewClient(cfg.Geocode, metricsRegistry)
	artifactStore := artifact.NewMinIOStore(storage.MinioClient, cfg.MinIO)

	userRepo := repository.NewUserRepository(database.DB)
	authSvc := authn.New(userRepo, jwtManager)

	poiCache := newPoiCache(cfg.Poi, database.RDB)
	poiRepo := poi.NewRepository(database.DB)
	poiProvider := poi.NewProvider(cfg.Poi)
	poiIndex, err := poi.NewSearchIndex(cfg.Elasticsearch)
	if err != nil {
		log.Fatalf("初始化 POI 搜索索引失败: %v", err)
	}
	poiSvc := poi.NewService(cfg.Poi, poiCache, poiIndex, poiRepo, poiProvider, metricsRegistry)

	planRepository := planrepo.NewRepository(database.DB)
	fastPlanner := planner.NewFastPlanner(cfg.Planner, cfg.Poi, poiSvc, poiRepo, geocoder, metricsRegistry)

	memoryProvider := memoryprovider.NewClient(cfg.Memory)
	memorySvc := memoryservice.New(memoryProvider, metricsRegistry)
	promptRegistry := prompt.New(database.DB, 10*time.Minute)
	deepPlanner := planner.NewDeepPlanner(cfg.DeepPlanner, cfg.Planner, cfg.Poi, llmClient, promptRegistry, fastPlanner, poiSvc, geocoder, memorySvc, metricsRegistry)

	taskRepo := taskengine.NewRepository(database.DB)
	taskQueue := newTaskQueue(cfg.Task, cfg.Kafka)
	taskEngine := taskengine.New(cfg.Task, taskRepo, taskQueue, metricsRegistry)
	registerDeepPlanHandler(taskEngine, taskRepo, deepPlanner, planRepository, artifactStore)

	planSvc := planservice.New(fastPlanner, deepPlanner, planRepository, taskEngine, cfg.DeepPlanner, metricsRegistry)

	toolRegistry := tool.New(cfg.Tool)
	toolRegistry.Register(tool.NewPoiAroundTool(poiSvc), "poi")
	toolRegistry.Register(tool.NewTripQueryTool(planRepository), "trip")
	toolRegistry.Register(tool.NewWeatherAreaTool(cfg.Tool), "weather")
	toolRegistry.Register(tool.NewPathNavigateTool(), "navigation")

	sessionStore := assistant.NewSessionStore(database.DB)
	assistantSvc := assistant.New(sessionStore, memorySvc, toolRegistry, promptRegistry, llmClient, metricsRegistry, assistant.Config{
		HistoryMaxRounds: cfg.Assistant.HistoryMaxRounds,
		TurnTimeoutS:     cfg.Assistant.TurnTimeoutS,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := taskEngine.Start(ctx); err != nil {
		log.Fatalf("启动任务引擎失败: %v", err)
	}
	defer cancel()

	gin.SetMode(cfg.Server.Mode)
	router := transporthttp.NewRouter(transporthttp.Handlers{
		Auth:  transporthttp.NewAuthHandler(authSvc),
		Plan:  transporthttp.NewPlanHandler(planSvc, taskEngine),
		Chat:  transporthttp.NewChatHandler(assistantSvc),
		Poi:   transporthttp.NewPoiHandler(poiSvc),
		Admin: transporthttp.NewAdminHandler(metricsRegistry, taskEngine),
	}, middleware.AuthMiddleware(authSvc), cfg.Admin)

	if cfg.Assistant.WSEnabled {
		wsHandler := transportws.NewHandler(assistantSvc, authSvc, cfg.Assistant)
		router.GET("/ws/assistant", wsHandler.Serve)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	taskEngine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

func newPoiCache(cfg config.PoiConfig, rdb *redis.Client) poi.Cache {
	if cfg.CacheBackend == "redis" && rdb != nil {
		return poi.NewRedisCache(rdb)
	}
	return poi.NewMemoryCache()
}

// wireSharedCounters attaches the optional Redis-backed cross-process
// counter mirror when configured, matching newPoiCache/newTaskQueue's
// backend-selection idiom. Left unwired (the default), the registry stays
// purely in-process.
func wireSharedCounters(registry *metrics.Registry, cfg config.MetricsConfig, rdb *redis.Client) {
	if cfg.CountersBackend != "redis" || rdb == nil {
		return
	}
	key := cfg.RedisKey
	if key == "" {
		key = "tripplan:metrics:counters"
	}
	registry.SetSharedCounters(metrics.NewRedisCounters(rdb, key))
}

func newTaskQueue(cfg config.TaskConfig, kafkaCfg config.KafkaConfig) taskengine.Queue {
	if cfg.QueueBackend == "kafka" {
		return taskengine.NewKafkaQueue(kafkaCfg, "tripplan-go-tasks")
	}
	return taskengine.NewChannelQueue(cfg.QueueMaxSize)
}

// registerDeepPlanHandler binds the "plan:deep" task kind: it re-runs the
// deep planner outside the request path, persists the result when the
// original request asked to save it, and stores a debug artifact keyed by
// the task id holding the request, the planner's ai_meta and the day
// count. Prompts and raw LLM output are not included.
func registerDeepPlanHandler(engine *taskengine.Engine, repo taskengine.Repository, deep *planner.DeepPlanner, plans planrepo.Repository, artifacts artifact.Store) {
	engine.RegisterHandler("plan:deep", func(ctx context.Context, task model.Task) (model.JSONMap, error) {
		request, err := decodeDeepPlanPayload(task)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidParams, "invalid plan:deep task payload", err)
		}

		plan, aiMeta, err := deep.Plan(ctx, request)
		if err != nil {
			return nil, err
		}

		if request.Save {
			saved, saveErr := plans.Save(ctx, plan)
			if saveErr != nil {
				return nil, saveErr
			}
			plan.ID = &saved.ID
		}

		if artifacts != nil {
			bundle := model.JSONMap{
				"request":   request,
				"ai_meta":   aiMeta,
				"day_count": len(plan.DayCards),
			}
			if putErr := artifacts.Put(ctx, task.ID, bundle); putErr == nil {
				_ = repo.SetArtifactKey(ctx, task.ID, task.ID)
			} else {
				log.Errorf("taskengine: failed to store plan:deep debug artifact for task %s: %v", task.ID, putErr)
			}
		}

		result := model.JSONMap{
			"plan":    plan,
			"ai_meta": aiMeta,
		}
		return result, nil
	})
}

func decodeDeepPlanPayload(task model.Task) (model.PlanRequest, error) {
	raw, err := json.Marshal(task.RequestPayload)
	if err != nil {
		return model.PlanRequest{}, err
	}
	var payload struct {
		Destination string            `json:"destination"`
		StartDate   string            `json:"start_date"`
		EndDate     string            `json:"end_date"`
		Preferences model.Preferences `json:"preferences"`
		Save        bool              `json:"save"`
		Seed        *int64            `json:"seed"`
		TraceID     string            `json:"trace_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return model.PlanRequest{}, err
	}
	startDate, err := time.Parse("2006-01-02", payload.StartDate)
	if err != nil {
		return model.PlanRequest{}, err
	}
	endDate, err := time.Parse("2006-01-02", payload.EndDate)
	if err != nil {
		return model.PlanRequest{}, err
	}
	return model.PlanRequest{
		UserID:      task.UserID,
		Destination: payload.Destination,
		StartDate:   startDate,
		EndDate:     endDate,
		Mode:        model.ModeDeep,
		Save:        payload.Save,
		Preferences: payload.Preferences,
		Seed:        payload.Seed,
		RequestID:   task.RequestID,
		TraceID:     payload.TraceID,
	}, nil
}
