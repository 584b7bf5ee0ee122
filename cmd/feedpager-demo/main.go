// Command feedpager-demo runs the pagination engine over a demo feed and
// exposes it through a small HTTP API. It serves a synthetic in-process feed
// by default; point SOURCE_URL at a JSON endpoint to paginate real data.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/feedworks/feedpager/pkg/cache"
	"github.com/feedworks/feedpager/pkg/feed"
	"github.com/feedworks/feedpager/pkg/health"
	"github.com/feedworks/feedpager/pkg/httpsource"
	"github.com/feedworks/feedpager/pkg/loadmore"
	"github.com/feedworks/feedpager/pkg/logging"
)

func main() {
	// Configuration from environment
	port := getEnv("PORT", "8080")
	redisURL := getEnv("REDIS_URL", "")
	sourceURL := getEnv("SOURCE_URL", "")
	logLevel := getEnv("LOG_LEVEL", "info")
	itemsPerPage := getEnvInt("ITEMS_PER_PAGE", 15)
	demoItems := getEnvInt("DEMO_ITEMS", 500)

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Pretty: true,
		Output: os.Stderr,
	})

	// Optional Redis for the shared page cache and the source health gate.
	var redisClient *redis.Client
	var sharedCache *cache.Manager
	var healthTracker *health.Tracker
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		sharedCache = cache.NewManager(redisClient)
		healthTracker = health.NewTracker(redisClient, logging.NewLogger("health"))
		log.Printf("Connected to Redis at %s", redisURL)
	}

	source, err := buildSource(sourceURL, healthTracker, demoItems)
	if err != nil {
		log.Fatalf("Failed to create source: %v", err)
	}

	engine, err := loadmore.New(loadmore.Config{
		Source:       source,
		ItemsPerPage: itemsPerPage,
		Matcher:      titleMatcher,
		SharedCache:  sharedCache,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	if err := engine.LoadInitial(context.Background()); err != nil {
		log.Printf("Initial load failed (feed starts empty): %v", err)
	}

	// HTTP Server
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/feed", feedHandler(engine))
	http.HandleFunc("/feed/more", loadMoreHandler(engine))
	http.HandleFunc("/feed/search", searchHandler(engine))
	http.HandleFunc("/feed/clear", clearHandler(engine))
	http.Handle("/metrics", promhttp.Handler())

	addr := ":" + port
	log.Printf("Starting feedpager demo on %s", addr)
	if sourceURL != "" {
		log.Printf("Source: %s", sourceURL)
	} else {
		log.Printf("Source: synthetic (%d items)", demoItems)
	}

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// buildSource returns the HTTP source when a URL is configured, otherwise a
// synthetic in-process feed.
func buildSource(sourceURL string, healthTracker *health.Tracker, demoItems int) (feed.Source, error) {
	if sourceURL != "" {
		cfg := httpsource.DefaultConfig(sourceURL)
		cfg.Health = healthTracker
		return httpsource.New(cfg)
	}
	return syntheticSource(demoItems), nil
}

// syntheticSource serves generated posts so the demo works with no backend.
func syntheticSource(total int) feed.Source {
	return feed.SourceFunc(func(ctx context.Context, page, pageSize int, _ feed.FilterSet) (feed.PageResult, error) {
		// Simulate a bit of backend latency.
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return feed.PageResult{}, ctx.Err()
		}

		offset := (page - 1) * pageSize
		items := make([]feed.Item, 0, pageSize)
		for i := offset; i < offset+pageSize && i < total; i++ {
			payload, _ := json.Marshal(map[string]any{
				"title":  fmt.Sprintf("Post %d", i),
				"author": fmt.Sprintf("author-%d", i%7),
			})
			items = append(items, feed.Item{
				ID:      fmt.Sprintf("post-%d", i),
				Payload: payload,
			})
		}
		return feed.PageResult{Items: items, TotalCount: total}, nil
	})
}

// titleMatcher matches an item when its payload contains the query string.
func titleMatcher(item feed.Item, query string, _ feed.FilterSet) bool {
	return strings.Contains(strings.ToLower(string(item.Payload)), strings.ToLower(query))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// feedHandler returns the current page window and pagination state.
func feedHandler(engine *loadmore.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := engine.State()
		writeJSON(w, map[string]any{
			"items":         st.PaginatedItems,
			"current_page":  st.CurrentPage,
			"total_pages":   st.TotalPages,
			"has_more":      st.HasMore,
			"mode":          st.Mode,
			"filter_active": st.IsFilterActive,
			"query":         st.ActiveQuery,
			"last_error":    st.LastError,
		})
	}
}

func loadMoreHandler(engine *loadmore.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		if err := engine.TriggerLoadMore(ctx); err != nil {
			http.Error(w, fmt.Sprintf("load more failed: %v", err), http.StatusBadGateway)
			return
		}

		st := engine.State()
		writeJSON(w, map[string]any{
			"items":        st.PaginatedItems,
			"current_page": st.CurrentPage,
			"has_more":     st.HasMore,
		})
	}
}

func searchHandler(engine *loadmore.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, "q parameter required", http.StatusBadRequest)
			return
		}

		if err := engine.ApplySearch(query, nil); err != nil {
			http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
			return
		}

		st := engine.State()
		writeJSON(w, map[string]any{
			"items":       st.PaginatedItems,
			"total_pages": st.TotalPages,
			"matches":     len(st.DisplayItems),
		})
	}
}

func clearHandler(engine *loadmore.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		engine.ClearFilters()

		st := engine.State()
		writeJSON(w, map[string]any{
			"items":        st.PaginatedItems,
			"current_page": st.CurrentPage,
		})
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
