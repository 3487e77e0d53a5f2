// Command token mints a bearer token for the API when auth.jwt_secret is set.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"docqa/internal/config"
	"docqa/internal/pkg/jwtutil"
)

func main() {
	subject := flag.String("subject", "docqa-ui", "token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to auth.jwt_expire_minute)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatalf("auth.jwt_secret (JWT_SECRET) is not set")
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
	}

	token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, lifetime, *subject)
	if err != nil {
		log.Fatalf("generate token failed: %v", err)
	}
	fmt.Println(token)
}
