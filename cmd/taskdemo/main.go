// Command taskdemo wires an Engine the way control_plane/main.go wires
// the reference scheduler: a handful of env-tunable knobs, a Prometheus
// registry exposed over /metrics, a couple of debug/health endpoints, and
// a banner on startup. Unlike the reference, there is no agent fleet or
// distributed coordination layer to stand up — taskdemo just submits a
// small seed workload and serves the engine's read-only HTTP surface
// until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaelforge/taskengine/config"
	"github.com/kaelforge/taskengine/engine"
	"github.com/kaelforge/taskengine/events"
	"github.com/kaelforge/taskengine/metrics"
	"github.com/kaelforge/taskengine/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.FromEnv(config.Default())

	reg := prometheus.NewRegistry()
	promReg := metrics.NewRegistry(reg)

	eng, err := engine.New(cfg, engine.WithPrometheusRegisterer(promReg))
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}

	eng.Subscribe(events.KindTaskFailed, func(e events.Event) {
		log.Printf("[EVENT] task %s failed", e.TaskID)
	})
	eng.Subscribe(events.KindBottleneckDetected, func(e events.Event) {
		log.Printf("[EVENT] bottleneck detected: %v", e.Payload)
	})

	seedWorkload(eng)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status := eng.Health()
		if status == metrics.HealthCritical {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": string(status)})
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eng.List())
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		id := task.ID(r.URL.Path[len("/tasks/"):])
		view, err := eng.Get(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	})
	mux.HandleFunc("/scheduler/debug/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eng.Metrics())
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := os.Getenv("TASKENGINE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	fmt.Println("==================================================")
	fmt.Println("TASKENGINE DEMO")
	fmt.Println("==================================================")
	fmt.Printf("Algorithm:          %s\n", cfg.Algorithm)
	fmt.Printf("Max Concurrency:    %d\n", cfg.MaxConcurrentTasks)
	fmt.Printf("Persistence Dir:    %s\n", cfg.PersistenceDir)
	fmt.Printf("Listening on:       %s\n", addr)
	fmt.Println("==================================================")

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := eng.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Printf("engine shutdown: %v", err)
	}
}

// seedWorkload submits a small chain of example tasks so the demo has
// something to schedule on first run; a real embedder submits its own.
func seedWorkload(eng *engine.Engine) {
	build := func(ctx interface{ Done() <-chan struct{} }, v *task.View) (task.Result, error) {
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
		return task.Result{Output: "built " + string(v.ID), DurationMs: 100}, nil
	}

	buildID, err := eng.Submit(engine.TaskSpec{
		Title:       "compile service",
		Description: "run the build for the demo service",
		Category:    task.CategoryFeature,
		Priority:    task.PriorityHigh,
		Execute:     build,
	})
	if err != nil {
		log.Printf("seed submit failed: %v", err)
		return
	}

	_, err = eng.Submit(engine.TaskSpec{
		Title:       "run integration tests",
		Description: "exercise the build output against the integration suite",
		Category:    task.CategoryTest,
		Priority:    task.PriorityMedium,
		Dependencies: []task.ID{buildID},
		Execute:      build,
	})
	if err != nil {
		log.Printf("seed submit failed: %v", err)
	}

	_, err = eng.Submit(engine.TaskSpec{
		Title:       "write release notes",
		Description: "summarize the changes for this release",
		Category:    task.CategoryDocumentation,
		Priority:    task.PriorityLow,
		Execute:     build,
	})
	if err != nil {
		log.Printf("seed submit failed: %v", err)
	}
}
