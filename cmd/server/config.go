package main

import (
	"strings"
	"time"

	"github.com/mcoach/assessment-engine/internal/utils"
)

type config struct {
	Addr          string
	DBPath        string
	LogMode       string
	RedisAddr     string
	SnapshotTTL   time.Duration
	QuizRegistry  string
	AdminEmail    string
	CORSOrigins   []string
	ShutdownGrace time.Duration
	AIAnalysis    bool
}

func configFromEnv() config {
	var origins []string
	for _, o := range strings.Split(utils.SafeEnv("MCE_CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return config{
		Addr:          utils.SafeEnv("MCE_ADDR", ":8080"),
		DBPath:        utils.SafeEnv("MCE_DB_PATH", "data/engine.db"),
		LogMode:       utils.SafeEnv("MCE_LOG_MODE", "dev"),
		RedisAddr:     utils.SafeEnv("MCE_REDIS_ADDR", ""),
		SnapshotTTL:   time.Duration(utils.EnvInt("MCE_SNAPSHOT_TTL_SECONDS", 300)) * time.Second,
		QuizRegistry:  utils.SafeEnv("MCE_QUIZ_REGISTRY", ""),
		AdminEmail:    utils.SafeEnv("MCE_ADMIN_EMAIL", ""),
		CORSOrigins:   origins,
		ShutdownGrace: time.Duration(utils.EnvInt("MCE_SHUTDOWN_GRACE_SECONDS", 10)) * time.Second,
		AIAnalysis:    utils.EnvBool("MCE_AI_ANALYSIS", true),
	}
}
