package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/wealthvisor/backend/src/config"
	"github.com/username/wealthvisor/backend/src/database"
	"github.com/username/wealthvisor/backend/src/handlers"
	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/services"
	"github.com/username/wealthvisor/backend/src/store"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func maxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("WealthVisor backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	activityStore := store.NewActivityStore(database.DB)
	valuationStore := store.NewValuationStore(database.DB)
	portfolioStore := store.NewPortfolioStore(database.DB)
	irrStore := store.NewIRRStore(database.DB)

	irrCache := services.NewIRRCache(config.Cfg.IRRCacheTTL)
	reportCache := cache.New(config.Cfg.SummaryCacheTTL, config.Cfg.SummaryCacheCleanupInterval)

	irrService := services.NewIRRService(activityStore, valuationStore, portfolioStore, irrStore, irrCache)
	summaryService := services.NewSummaryService(portfolioStore, valuationStore, irrStore, reportCache)
	valuationService := services.NewValuationService(portfolioStore, valuationStore, irrStore, irrService, irrCache, summaryService)

	irrHandler := handlers.NewIRRHandler(irrService, valuationService, irrCache)
	activityHandler := handlers.NewActivityHandler(valuationService)
	valuationHandler := handlers.NewValuationHandler(valuationService)
	portfolioHandler := handlers.NewPortfolioHandler(summaryService, irrCache)
	clientGroupHandler := handlers.NewClientGroupHandler()

	// Periodic sweep keeps the IRR cache from accumulating expired entries
	// between calculations.
	go func() {
		ticker := time.NewTicker(config.Cfg.IRRCacheCleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			if removed := irrCache.ClearExpired(); removed > 0 {
				logger.L.Debug("Expired IRR cache entries cleared", "removed", removed)
			}
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)
	r.Use(maxBodyMiddleware(config.Cfg.MaxBodyBytes))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "WealthVisor Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		// Client groups and products
		r.Get("/client_groups", clientGroupHandler.ListClientGroups)
		r.Post("/client_groups", clientGroupHandler.CreateClientGroup)
		r.Delete("/client_groups/{clientGroupID}", clientGroupHandler.DeleteClientGroup)
		r.Get("/client_groups/{clientGroupID}/products", clientGroupHandler.ListProducts)
		r.Post("/client_groups/{clientGroupID}/products", clientGroupHandler.CreateProduct)

		// Portfolios and funds
		r.Get("/portfolios", portfolioHandler.ListPortfolios)
		r.Post("/portfolios", portfolioHandler.CreatePortfolio)
		r.Delete("/portfolios/{portfolioID}", portfolioHandler.DeletePortfolio)
		r.Get("/portfolios/{portfolioID}/funds", portfolioHandler.ListPortfolioFunds)
		r.Post("/portfolios/{portfolioID}/funds", portfolioHandler.CreatePortfolioFund)
		r.Get("/portfolios/{portfolioID}/summary", portfolioHandler.HandleGetPortfolioSummary)
		r.Get("/funds/{fundID}", portfolioHandler.GetFund)
		r.Delete("/funds/{fundID}", portfolioHandler.DeleteFund)
		r.Patch("/funds/{fundID}/status", portfolioHandler.UpdateFundStatus)

		// Activities and valuations
		r.Get("/funds/{fundID}/activities", activityHandler.HandleListFundActivities)
		r.Post("/funds/{fundID}/activities", activityHandler.HandleCreateActivity)
		r.Put("/activities/{activityID}", activityHandler.HandleUpdateActivity)
		r.Delete("/activities/{activityID}", activityHandler.HandleDeleteActivity)
		r.Get("/funds/{fundID}/valuations", valuationHandler.HandleListFundValuations)
		r.Post("/funds/{fundID}/valuations", valuationHandler.HandleCreateValuation)
		r.Put("/valuations/{valuationID}", valuationHandler.HandleUpdateValuation)
		r.Delete("/valuations/{valuationID}", valuationHandler.HandleDeleteValuation)

		// IRR calculation and cache
		r.Get("/funds/{fundID}/irr", irrHandler.HandleCalculateFundIRR)
		r.Post("/irr/group", irrHandler.HandleCalculateGroupIRR)
		r.Post("/portfolios/{portfolioID}/irr", irrHandler.HandleCalculatePortfolioIRR)
		r.Get("/irr/cache/stats", irrHandler.HandleCacheStats)
		r.Post("/irr/cache/invalidate", irrHandler.HandleInvalidateCache)
		r.Post("/irr/cache/clear-expired", irrHandler.HandleClearExpiredCache)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
		}
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
