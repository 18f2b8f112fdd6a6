package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"scriptgenius-backend/audio"
	"scriptgenius-backend/categories"
	"scriptgenius-backend/conn"
	"scriptgenius-backend/login"
	"scriptgenius-backend/marketing"
	"scriptgenius-backend/migrations"
	"scriptgenius-backend/openai"
	"scriptgenius-backend/profile"
	"scriptgenius-backend/quota"
	"scriptgenius-backend/ratelimit"
	"scriptgenius-backend/scripts"
	"scriptgenius-backend/stats"
	"scriptgenius-backend/subscriptions"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[main][env] no .env file loaded: %v", err)
	}

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("[main][db] connection failed: %v", err)
	}

	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[main][db] migrations failed: %v", err)
	}
	if err := migrations.SeedDefaultAdmin(); err != nil {
		log.Printf("[main][db] admin seed failed: %v", err)
	}
	if err := migrations.SeedDefaultCategories(); err != nil {
		log.Printf("[main][db] category seed failed: %v", err)
	}
	stats.Init(db)

	subsRepo := subscriptions.NewRepository(db)
	stripeSvc := subscriptions.NewStripeFromEnv(subsRepo)
	quotaEngine := quota.NewEngine(db, subsRepo)
	scriptRepo := scripts.NewRepository(db)
	aiClient := openai.NewClient()
	ipLimiter := ratelimit.New(db, 10, 0)

	// Handlers resolve the session user through the login package; wired
	// here to keep the packages free of an import cycle.
	subscriptions.RegisterUserResolver(login.UserFromContext)
	scripts.RegisterUserResolver(login.UserFromContext)
	audio.RegisterUserResolver(login.UserFromContext)
	profile.RegisterUserResolver(login.UserFromContext)
	login.RegisterSubscriptionStore(subsRepo)

	r := gin.Default()

	r.POST("/login", login.Handler)
	r.GET("/session", login.SessionHandler)
	r.POST("/logout", login.LogoutHandler)
	r.POST("/register", login.RegisterHandler)
	r.POST("/change-password", login.ChangePasswordHandler)
	r.POST("/refresh", login.RefreshHandler)

	subscriptions.NewHandler(subsRepo, stripeSvc).RegisterRoutes(r)
	scripts.NewHandler(scriptRepo, aiClient, quotaEngine, ipLimiter).RegisterRoutes(r)
	// Keep the interfaces nil when the providers are unconfigured so the
	// audio route answers 503 instead of calling through a nil client.
	var tts audio.Synthesizer
	if c := audio.NewTTSFromEnv(); c != nil {
		tts = c
	}
	var blobs audio.BlobStore
	if s := audio.NewCloudinaryFromEnv(); s != nil {
		blobs = s
	}
	audio.NewHandler(tts, blobs, scriptRepo).RegisterRoutes(r)
	profile.NewHandler(subsRepo, quotaEngine).RegisterRoutes(r)
	categories.NewHandler(categories.NewRepository(db)).RegisterRoutes(r)
	stats.RegisterAdminRoutes(r)

	marketing.NewService(db).Start()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("[main][http] server stopped: %v", err)
	}
}
