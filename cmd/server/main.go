package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/accelbench/trainmetrics/internal/api"
	"github.com/accelbench/trainmetrics/internal/collector"
	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/dbconfig"
	"github.com/accelbench/trainmetrics/internal/reference"
	"github.com/accelbench/trainmetrics/internal/telemetry"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	port := getEnv("PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbURL, err := dbconfig.ConnString(ctx, os.Getenv("DATABASE_URL"), os.Getenv("DATABASE_SECRET_ARN"))
	if err != nil {
		klog.Fatalf("resolve database connection: %v", err)
	}

	ref := reference.Default()
	if path := os.Getenv("REFERENCE_FILE"); path != "" {
		ref, err = reference.LoadFile(path)
		if err != nil {
			klog.Fatalf("load reference table: %v", err)
		}
	}
	klog.InfoS("loaded reference table", "version", ref.Version(), "accelerators", len(ref.Accelerators()), "models", len(ref.Models()))

	repo, err := database.NewRepository(ctx, dbURL)
	if err != nil {
		klog.Fatalf("connect to database: %v", err)
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		klog.Fatalf("migrate: %v", err)
	}

	k8sCfg, err := rest.InClusterConfig()
	if err != nil {
		klog.Fatalf("load in-cluster config: %v", err)
	}
	k8sClient, err := kubernetes.NewForConfig(k8sCfg)
	if err != nil {
		klog.Fatalf("create kubernetes client: %v", err)
	}

	recorder := telemetry.NewRecorder()
	coll := collector.New(k8sClient, repo, ref, recorder, collector.Config{
		PricingRegion:   getEnv("PRICING_REGION", "us-east-2"),
		DCGMExporterURL: os.Getenv("DCGM_EXPORTER_URL"),
	})
	srv := api.NewServer(repo, ref, coll)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", recorder.Handler())
	srv.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			klog.ErrorS(err, "server shutdown")
		}
	}()

	klog.InfoS("trainmetrics API server starting", "port", port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Fatalf("server failed: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
