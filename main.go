package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"quark-webdav/internal/cache"
	"quark-webdav/internal/davfs"
	"quark-webdav/internal/drive"
	"quark-webdav/internal/helpers"
	"quark-webdav/internal/server"
)

func getEnvOrDefault(envKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	log.SetOutput(os.Stderr)

	var (
		// Drive configuration
		cookie     = flag.String("cookie", os.Getenv("QUARK_COOKIE"), "Quark Pan session cookie (required)")
		apiBaseURL = flag.String("api-base-url", getEnvOrDefault("API_BASE_URL", "https://drive.quark.cn"), "Drive API base URL")
		root       = flag.String("root", getEnvOrDefault("WEBDAV_ROOT", "/"), "Drive directory exposed as the WebDAV root")

		// WebDAV server configuration
		host        = flag.String("host", getEnvOrDefault("HOST", "0.0.0.0"), "Listen address")
		httpPort    = flag.String("http-port", getEnvOrDefault("HTTP_PORT", "8080"), "HTTP server port")
		httpOnly    = flag.Bool("http-only", getEnvOrDefault("HTTP_ONLY", "false") == "true", "Enable HTTP only (no HTTPS)")
		stripPrefix = flag.String("strip-prefix", os.Getenv("STRIP_PREFIX"), "URL path prefix stripped before WebDAV resolution")

		// Authentication configuration
		authUser     = flag.String("auth-user", os.Getenv("WEBDAV_AUTH_USER"), "WebDAV username (empty disables authentication)")
		authPassword = flag.String("auth-password", os.Getenv("WEBDAV_AUTH_PASSWORD"), "WebDAV password")

		// Cache configuration
		cacheCapacity = flag.String("cache-capacity", getEnvOrDefault("CACHE_CAPACITY", "1000"), "Maximum number of cached directory listings")
		cacheTTL      = flag.String("cache-ttl", getEnvOrDefault("CACHE_TTL", "60"), "Directory cache TTL in seconds")
		cacheDB       = flag.String("cache-db", os.Getenv("CACHE_DB"), "SQLite file for a persistent directory cache (empty keeps the cache in memory)")

		// TLS configuration
		tlsCert    = flag.String("tls-cert", os.Getenv("TLS_CERT"), "TLS certificate file path")
		tlsKey     = flag.String("tls-key", os.Getenv("TLS_KEY"), "TLS key file path")
		persistDir = flag.String("persist-dir", getEnvOrDefault("PERSIST_DIR", "./data"), "Directory to store persistent data (certificates and keys)")

		// Help
		help = flag.Bool("help", false, "Show help message")
	)

	flag.Parse()

	if *help {
		fmt.Println("Quark WebDAV Gateway")
		fmt.Println("====================")
		fmt.Println("A WebDAV server backed by the Quark Pan cloud drive.")
		fmt.Println()
		fmt.Println("Usage:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Environment variables (used as defaults for flags):")
		fmt.Println("  QUARK_COOKIE         - Quark Pan session cookie (required)")
		fmt.Println("  API_BASE_URL         - Drive API base URL (default: https://drive.quark.cn)")
		fmt.Println("  WEBDAV_ROOT          - Drive directory exposed as the WebDAV root (default: /)")
		fmt.Println("  HOST                 - Listen address (default: 0.0.0.0)")
		fmt.Println("  HTTP_PORT            - Server port (default: 8080)")
		fmt.Println("  HTTP_ONLY            - Enable HTTP only (no HTTPS) (default: false)")
		fmt.Println("  STRIP_PREFIX         - URL path prefix stripped before WebDAV resolution")
		fmt.Println("  WEBDAV_AUTH_USER     - WebDAV username (empty disables authentication)")
		fmt.Println("  WEBDAV_AUTH_PASSWORD - WebDAV password (generated into PERSIST_DIR when empty)")
		fmt.Println("  CACHE_CAPACITY       - Maximum number of cached directory listings (default: 1000)")
		fmt.Println("  CACHE_TTL            - Directory cache TTL in seconds (default: 60)")
		fmt.Println("  CACHE_DB             - SQLite file for a persistent directory cache (optional)")
		fmt.Println("  TLS_CERT             - TLS certificate file path (optional)")
		fmt.Println("  TLS_KEY              - TLS key file path (optional)")
		fmt.Println("  PERSIST_DIR          - Directory for persistent data (default: ./data)")
		os.Exit(0)
	}

	if *cookie == "" {
		log.Fatal("Drive cookie is required (use -cookie flag or QUARK_COOKIE environment variable)")
	}

	capacity, err := strconv.Atoi(*cacheCapacity)
	if err != nil || capacity < 1 {
		log.Fatalf("Invalid cache capacity: %s", *cacheCapacity)
	}
	ttlSeconds, err := strconv.Atoi(*cacheTTL)
	if err != nil || ttlSeconds < 1 {
		log.Fatalf("Invalid cache TTL: %s", *cacheTTL)
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	log.Printf("Starting Quark WebDAV gateway...")

	client, err := drive.NewClient(drive.Config{
		APIBaseURL: *apiBaseURL,
		Cookie:     *cookie,
	})
	if err != nil {
		log.Fatalf("Failed to create drive client: %v", err)
	}

	// A failed quota probe usually means the cookie is stale. Warn early
	// instead of letting every mount attempt fail quietly.
	if quota, err := client.Quota(context.Background()); err != nil {
		log.Printf("Drive: quota probe failed, cookie may be invalid: %v", err)
	} else {
		log.Printf("Drive: using %d of %d bytes", quota.Used, quota.Total)
	}

	var store cache.Store
	if *cacheDB != "" {
		store, err = cache.NewSqliteStore(*cacheDB, capacity, ttl)
		if err != nil {
			log.Fatalf("Failed to open cache database: %v", err)
		}
		log.Printf("Cache: persistent store at %s (capacity %d, ttl %s)", *cacheDB, capacity, ttl)
	} else {
		store, err = cache.NewMemoryStore(capacity, ttl)
		if err != nil {
			log.Fatalf("Failed to create cache: %v", err)
		}
		log.Printf("Cache: in-memory store (capacity %d, ttl %s)", capacity, ttl)
	}

	dirCache := cache.New(store, client)
	defer dirCache.Close()

	fs := davfs.New(client, dirCache, *root)
	log.Printf("WebDAV: serving drive directory %s", *root)

	if *authUser != "" && *authPassword == "" && *persistDir != "" {
		*authPassword, err = helpers.GetOrCreateRandomSecret(filepath.Join(*persistDir, "webdav_password"), 20)
		if err != nil {
			log.Fatalf("Failed to get/create WebDAV password: %v", err)
		}
		log.Printf("Auth: Generated/loaded password from %s", *persistDir)
		log.Printf("Auth: User: %s", *authUser)
		log.Printf("Auth: Password: %s", *authPassword)
	} else if *authUser != "" {
		log.Printf("Auth: Using provided credentials for user %s", *authUser)
	} else {
		log.Printf("Auth: Authentication disabled")
	}

	handler := server.NewHandler(fs, dirCache, client.Quota, server.Config{
		AuthUser:     *authUser,
		AuthPassword: *authPassword,
		StripPrefix:  *stripPrefix,
	})

	if !*httpOnly && *tlsCert == "" && *tlsKey == "" && *persistDir != "" {
		*tlsCert, *tlsKey, err = helpers.GetOrCreateCertificates(*persistDir)
		if err != nil {
			log.Fatalf("Failed to get/create certificates: %v", err)
		}
	}

	addr := *host + ":" + *httpPort

	if *tlsCert != "" && *tlsKey != "" {
		if *httpOnly {
			log.Fatal("Cannot use TLS with HTTP only mode")
		}
		log.Printf("TLS: Certificate: %s / %s", *tlsCert, *tlsKey)
		if fingerprint, err := helpers.GetCertificateFingerprint(*tlsCert); err == nil {
			log.Printf("TLS: Fingerprint: %s", fingerprint)
		}
		log.Printf("HTTPS: Server ready! Listening on https://%s", addr)
		log.Fatal(http.ListenAndServeTLS(addr, *tlsCert, *tlsKey, handler))
	} else {
		log.Printf("HTTP: Server ready! Listening on http://%s", addr)
		log.Fatal(http.ListenAndServe(addr, handler))
	}
}
