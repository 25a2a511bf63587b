package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"merchantcard/domain"
	"merchantcard/enroll"
	"merchantcard/exportjob"
	"merchantcard/momo"
	"merchantcard/obs"
	"merchantcard/ossstore"
	"merchantcard/store"
	"merchantcard/streamq"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	shutdownObs, _ := obs.Init("merchantcard-api")
	defer func() { _ = shutdownObs(context.Background()) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if redisAddr == "" {
		log.Fatalf("REDIS_ADDR empty: stream queue mode requires Redis")
	}
	taskStore, err := store.NewRedisExportTaskStore(redisAddr, os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		log.Fatalf("init redis export task store failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		DB:       readEnvIntDefault("REDIS_DB", 0),
	})
	enrollStore := store.NewRedisEnrollmentStore(rdb)
	refStore := store.NewRedisReferenceStore(rdb)
	seedReferenceData(refStore)

	var ossSt *ossstore.Store
	if st, enabled, err := ossstore.NewFromEnv(); err != nil {
		if enabled {
			log.Fatalf("init oss store failed: %v", err)
		}
	} else if enabled {
		ossSt = st
		log.Printf("oss store enabled bucket=%s prefix=%s", strings.TrimSpace(os.Getenv("OSS_BUCKET")), strings.TrimSpace(os.Getenv("OSS_PREFIX")))
	}

	exportStream := readEnvDefault("EXPORT_STREAM_KEY", "mc:exporttasks:stream")
	exportGroup := readEnvDefault("EXPORT_STREAM_GROUP", "mc-export")
	exportMaxLen := int64(readEnvIntDefault("EXPORT_STREAM_MAXLEN", 100000))
	exportQ := streamq.NewRedisStreamQueue(rdb, exportStream, exportGroup, exportMaxLen)

	payStream := readEnvDefault("PAYGATE_STREAM_KEY", "mc:enrollments:paygate")
	payGroup := readEnvDefault("PAYGATE_STREAM_GROUP", "mc-paygate")
	payMaxLen := int64(readEnvIntDefault("PAYGATE_STREAM_MAXLEN", 100000))
	payQ := streamq.NewRedisStreamQueue(rdb, payStream, payGroup, payMaxLen)

	exportSvc := exportjob.NewService(taskStore, exportQ, ossSt)
	exportSvc.RegisterRoutes(mux)

	enrollSvc := enroll.NewService(enrollStore, refStore, payQ)
	enrollSvc.RegisterRoutes(mux)

	momo.RegisterNotifyRoutes(mux, enrollStore)

	addr := ":" + readEnvDefault("PORT", "8080")
	log.Printf("merchantcard-api listening on %s", addr)
	// Wrap order: cors -> otel/metrics -> mux
	handler := corsMiddleware(obs.WrapHTTP("merchantcard-api", mux))
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// seedReferenceData loads the wizard's dropdown data on first boot. Existing
// data is never overwritten.
func seedReferenceData(refs store.ReferenceStore) {
	acts, err := refs.Activities()
	if err != nil {
		log.Printf("reference seed check failed: %v", err)
		return
	}
	if len(acts) > 0 {
		return
	}
	err = refs.Seed(
		[]domain.Activity{
			{ID: "act_commerce", Name: "Commerce général"},
			{ID: "act_artisanat", Name: "Artisanat"},
			{ID: "act_services", Name: "Services"},
			{ID: "act_agro", Name: "Agroalimentaire"},
		},
		[]domain.SubActivity{
			{ID: "sub_textile", ActivityID: "act_commerce", Name: "Textile"},
			{ID: "sub_electronique", ActivityID: "act_commerce", Name: "Électronique"},
			{ID: "sub_menuiserie", ActivityID: "act_artisanat", Name: "Menuiserie"},
			{ID: "sub_couture", ActivityID: "act_artisanat", Name: "Couture"},
			{ID: "sub_coiffure", ActivityID: "act_services", Name: "Coiffure"},
			{ID: "sub_restauration", ActivityID: "act_agro", Name: "Restauration"},
		},
		[]domain.Address{
			{ID: "addr_plateau", City: "Abidjan", Name: "Plateau"},
			{ID: "addr_cocody", City: "Abidjan", Name: "Cocody"},
			{ID: "addr_adjame", City: "Abidjan", Name: "Adjamé"},
			{ID: "addr_treichville", City: "Abidjan", Name: "Treichville"},
		},
	)
	if err != nil {
		log.Printf("reference seed failed: %v", err)
		return
	}
	log.Printf("reference data seeded")
}

func readEnvDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func readEnvIntDefault(key string, defaultVal int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func corsMiddleware(next http.Handler) http.Handler {
	allowOrigin := readEnvDefault("CORS_ALLOW_ORIGIN", "http://localhost:5173")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
