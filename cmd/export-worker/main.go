package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"merchantcard/exportjob"
	"merchantcard/obs"
	"merchantcard/ossstore"
	"merchantcard/paygate"
	"merchantcard/redislock"
	"merchantcard/store"
	"merchantcard/streamq"
)

func main() {
	shutdownObs, _ := obs.Init("export-worker")
	defer func() { _ = shutdownObs(context.Background()) }()

	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if redisAddr == "" {
		log.Fatalf("REDIS_ADDR empty")
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

	var ossSt *ossstore.Store
	if st, enabled, err := ossstore.NewFromEnv(); err != nil {
		if enabled {
			log.Fatalf("init oss store failed: %v", err)
		}
	} else if enabled {
		ossSt = st
		log.Printf("oss store enabled bucket=%s prefix=%s", strings.TrimSpace(os.Getenv("OSS_BUCKET")), strings.TrimSpace(os.Getenv("OSS_PREFIX")))
	}

	ctx, cancel := signalContext()
	defer cancel()

	exportStream := readEnvDefault("EXPORT_STREAM_KEY", "mc:exporttasks:stream")
	exportGroup := readEnvDefault("EXPORT_STREAM_GROUP", "mc-export")
	exportMaxLen := int64(readEnvIntDefault("EXPORT_STREAM_MAXLEN", 100000))
	exportQ := streamq.NewRedisStreamQueue(rdb, exportStream, exportGroup, exportMaxLen)
	if err := exportQ.EnsureGroup(ctx); err != nil {
		log.Fatalf("ensure export stream group failed: %v", err)
	}

	payStream := readEnvDefault("PAYGATE_STREAM_KEY", "mc:enrollments:paygate")
	payGroup := readEnvDefault("PAYGATE_STREAM_GROUP", "mc-paygate")
	payMaxLen := int64(readEnvIntDefault("PAYGATE_STREAM_MAXLEN", 100000))
	payQ := streamq.NewRedisStreamQueue(rdb, payStream, payGroup, payMaxLen)
	if err := payQ.EnsureGroup(ctx); err != nil {
		log.Fatalf("ensure paygate stream group failed: %v", err)
	}

	tmpRoot := readEnvDefault("TMP_ROOT", "./tmp")
	lock := redislock.New(rdb, readEnvDefault("EXPORT_TASK_LOCK_PREFIX", "mc:lock:exporttask:"))
	exportWorker := exportjob.NewWorker(taskStore, enrollStore, tmpRoot, ossSt, lock)
	payWorker := paygate.NewWorker(enrollStore, lock)

	consumerName := strings.TrimSpace(os.Getenv("WORKER_CONSUMER_NAME"))
	if consumerName == "" {
		consumerName = strings.TrimSpace(os.Getenv("HOSTNAME"))
	}

	go serveMetrics(readEnvDefault("METRICS_ADDR", ":9090"))

	payCons := streamq.NewConsumer(rdb, payStream, payGroup, consumerName)
	payCons.SetConcurrency(readEnvIntDefault("STREAM_CONCURRENCY", 4))
	go func() {
		err := payCons.ConsumeLoop(ctx, func(ctx context.Context, enrollmentID string) error {
			start := time.Now()
			err := payWorker.Process(ctx, enrollmentID)
			obs.RecordWorkerJob("paygate-worker", start, err)
			return err
		})
		if err != nil && err != context.Canceled {
			log.Printf("paygate consume loop exited: %v", err)
		}
	}()

	cons := streamq.NewConsumer(rdb, exportStream, exportGroup, consumerName)
	cons.SetConcurrency(readEnvIntDefault("STREAM_CONCURRENCY", 4))
	log.Printf("export-worker start stream=%s group=%s consumer=%s", exportStream, exportGroup, consumerName)

	err = cons.ConsumeLoop(ctx, func(ctx context.Context, taskID string) error {
		// handler must never crash the loop; failures land on the task record.
		start := time.Now()
		err := exportWorker.Process(ctx, taskID)
		obs.RecordWorkerJob("export-worker", start, err)
		return err
	})
	if err != nil && err != context.Canceled {
		log.Fatalf("consume loop exited: %v", err)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           obs.WrapHTTP("export-worker-metrics", mux),
		ReadHeaderTimeout: 3 * time.Second,
	}
	_ = srv.ListenAndServe()
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
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
		// second signal: hard exit
		select {
		case <-ch:
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()
	return ctx, cancel
}
