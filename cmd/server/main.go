package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/learnpay/backend/docs"
	"github.com/learnpay/backend/internal/config"
	"github.com/learnpay/backend/internal/database"
	"github.com/learnpay/backend/internal/gateway"
	mW "github.com/learnpay/backend/internal/middleware"
	"github.com/learnpay/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title LearnPay Backend API
// @version 1.0
// @description API for the course marketplace wallet and settlement backend
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.secret_key", "GATEWAY_SECRET_KEY")
	viper.BindEnv("gateway.operator_ref_id", "GATEWAY_OPERATOR_REF_ID")
	viper.BindEnv("gateway.timeout", "GATEWAY_TIMEOUT")
	viper.BindEnv("settlement.purchase_retries", "SETTLEMENT_PURCHASE_RETRIES")
	viper.BindEnv("uploads.dir", "UPLOADS_DIR")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("uploads.dir", "./uploads")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "LearnPay Backend API"
	docs.SwaggerInfo.Description = "API for the course marketplace wallet and settlement backend"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	paymentGateway := gateway.NewPaychanguClient(config.LoadGatewayConfig())

	walletService := services.NewWalletService(db)
	enrollmentService := services.NewEnrollmentService(db, redisClient)
	settlementService := services.NewSettlementService(db, paymentGateway, walletService, enrollmentService, config.LoadSettlementConfig())
	courseService := services.NewCourseService(db, viper.GetString("uploads.dir"))
	authService := services.NewAuthService(db, redisClient, viper.GetString("uploads.dir"))
	operatorService := services.NewOperatorService()

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for course covers and operator logos
	r.Handle("/static/covers/*", http.StripPrefix("/static/covers/",
		mW.StaticFileServer(viper.GetString("uploads.dir")+"/covers")))
	r.Handle("/static/avatars/*", http.StripPrefix("/static/avatars/",
		mW.StaticFileServer(viper.GetString("uploads.dir")+"/avatars")))
	r.Handle("/static/operator-logos/*", http.StripPrefix("/static/operator-logos/",
		mW.StaticFileServer("./static/operator-logos")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/operators", operatorService.GetAllOperators)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)
			r.Post("/auth/account/picture", authService.UploadProfilePicture)

			// Admin management
			r.Post("/admin/promote/{userID}", authService.PromoteUser)

			// Wallet endpoints
			r.Get("/wallet/balance", walletService.GetBalance)
			r.Get("/wallet/transactions", walletService.GetTransactions)
			r.Post("/wallet/deposit/initialize", settlementService.DepositInitialize)
			r.Post("/wallet/verify-deposit/{paymentRef}", settlementService.DepositVerify)

			// Course endpoints
			r.Get("/courses", courseService.ListCourses)
			r.Post("/courses", courseService.CreateCourse)
			r.Get("/courses/{courseID}", courseService.GetCourse)
			r.Post("/courses/{courseID}/purchase", settlementService.Purchase)
			r.Post("/courses/{courseID}/like", courseService.ToggleLike)
			r.Get("/courses/{courseID}/download", courseService.Download)

			// Enrollment endpoints
			r.Get("/enrollments", enrollmentService.ListEnrollments)
			r.Put("/enrollments/{code}/progress", enrollmentService.Progress)
			r.Get("/enrollments/{code}/qr", enrollmentService.AccessPass)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
