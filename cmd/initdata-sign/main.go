// Command initdata-sign prints a signed identity payload for local testing
// of POST /api/auth/platform.
//
//	initdata-sign -id 42 -username alice | \
//	  jq -R '{initData: .}' | curl -d @- localhost:8080/api/auth/platform
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"fingergun/config"
	"fingergun/initdata"
)

func main() {
	var (
		configPath = flag.String("config", ".", "directory containing config.yaml, used when -token is empty")
		token      = flag.String("token", "", "bot token; defaults to auth.bot_token from config")
		id         = flag.Int64("id", 0, "platform user id (required)")
		username   = flag.String("username", "", "platform handle")
		firstName  = flag.String("first", "", "first name")
		lastName   = flag.String("last", "", "last name")
		lang       = flag.String("lang", "", "language code")
		premium    = flag.Bool("premium", false, "premium flag")
		age        = flag.Duration("age", 0, "backdate auth_date by this much")
	)
	flag.Parse()

	if *id <= 0 {
		log.Fatal("-id must be a positive integer")
	}

	botToken := *token
	if botToken == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		botToken = cfg.Auth.BotToken
	}
	if botToken == "" {
		log.Fatal("no bot token: pass -token or set AUTH_BOT_TOKEN")
	}

	payload, err := initdata.Build(initdata.Identity{
		PlatformUserID: *id,
		Username:       *username,
		FirstName:      *firstName,
		LastName:       *lastName,
		LanguageCode:   *lang,
		IsPremium:      *premium,
		AuthDate:       time.Now().Add(-*age),
	}, botToken)
	if err != nil {
		log.Fatalf("Failed to build payload: %v", err)
	}
	fmt.Println(payload)
}
