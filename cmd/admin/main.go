package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"aihub/internal/config"
	"aihub/internal/database"
	"aihub/internal/tasks"
)

// 运维工具：手动触发习惯分析，绕过每日调度。
func main() {
	var (
		userID    = flag.Uint("user-id", 0, "只分析指定用户（与 --all 二选一）")
		all       = flag.Bool("all", false, "为所有有习惯的用户入队分析任务")
		redisAddr = flag.String("redis-addr", "", "Redis 地址（可选，默认读 REDIS_HOST/REDIS_PORT）")
		dbHost    = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort    = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName    = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser    = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass    = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode   = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()

	if (*userID == 0) == !*all {
		log.Fatal("specify exactly one of --user-id or --all")
	}

	addr := strings.TrimSpace(*redisAddr)
	if addr == "" {
		host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
		if host == "" {
			host = "localhost"
		}
		port := strings.TrimSpace(os.Getenv("REDIS_PORT"))
		if port == "" {
			port = "6379"
		}
		addr = host + ":" + port
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: addr})
	defer asynqClient.Close()

	if *userID != 0 {
		task, err := tasks.NewHabitAnalyzeTask(uint(*userID))
		if err != nil {
			log.Fatalf("build task: %v", err)
		}
		info, err := asynqClient.Enqueue(task)
		if err != nil {
			log.Fatalf("enqueue task: %v", err)
		}
		fmt.Printf("已为用户 %d 入队分析任务: %s\n", *userID, info.ID)
		return
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	var userIDs []uint
	if err := db.Model(&database.Habit{}).Distinct("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		log.Fatalf("query habit users: %v", err)
	}
	if len(userIDs) == 0 {
		fmt.Println("没有需要分析的用户")
		return
	}

	enqueued := 0
	for _, id := range userIDs {
		task, err := tasks.NewHabitAnalyzeTask(id)
		if err != nil {
			log.Printf("build task for user %d: %v", id, err)
			continue
		}
		if _, err := asynqClient.Enqueue(task); err != nil {
			log.Printf("enqueue task for user %d: %v", id, err)
			continue
		}
		enqueued++
	}
	fmt.Printf("已入队 %d/%d 个分析任务\n", enqueued, len(userIDs))
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
