package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/clock"
	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/db"
	"github.com/xtrntr/auction/internal/store"
)

type demoAuction struct {
	title, category   string
	start, increment  string
	reserve           string
	startsIn, runsFor time.Duration
	bids              []demoBid
}

type demoBid struct {
	bidder, amount string
}

var demo = []demoAuction{
	{
		title: "Vintage film camera", category: "electronics",
		start: "100", increment: "10", reserve: "250",
		runsFor: 2 * time.Hour,
		bids:    []demoBid{{"alice", "100"}, {"bob", "120"}, {"alice", "140"}},
	},
	{
		title: "First edition novel", category: "books",
		start: "40", increment: "5",
		runsFor: 3 * time.Minute,
		bids:    []demoBid{{"bob", "40"}},
	},
	{
		title: "Oak writing desk", category: "furniture",
		start: "300", increment: "25", reserve: "500",
		startsIn: 10 * time.Minute, runsFor: 24 * time.Hour,
	},
}

// Seed the database with demo auctions and print tokens for the demo users
func main() {
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logrus.Fatal("AUCTION_DATABASE_URL is required for seeding")
	}
	ctx := context.Background()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logrus.Fatalf("Failed to migrate: %v", err)
	}
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	existing, err := database.ListAuctions(ctx, store.Filter{Limit: 1})
	if err != nil {
		logrus.Fatalf("Failed to check auctions: %v", err)
	}
	if len(existing) > 0 {
		fmt.Println("Database already has auctions. No need to seed.")
		os.Exit(0)
	}

	svc := auction.NewService(database, clock.System{}, nil, logrus.StandardLogger(), cfg.Engine())
	now := time.Now().UTC()
	for _, d := range demo {
		in := auction.CreateAuctionInput{
			SellerID:     "seller",
			Title:        d.title,
			Category:     d.category,
			StartPrice:   decimal.RequireFromString(d.start),
			MinIncrement: decimal.RequireFromString(d.increment),
			StartTime:    now.Add(d.startsIn),
			EndTime:      now.Add(d.startsIn + d.runsFor),
		}
		if d.reserve != "" {
			r := decimal.RequireFromString(d.reserve)
			in.ReservePrice = &r
		}
		a, err := svc.CreateAuction(ctx, in)
		if err != nil {
			logrus.Fatalf("Failed to create auction %q: %v", d.title, err)
		}
		for _, b := range d.bids {
			_, err := svc.SubmitBid(ctx, auction.BidRequest{
				AuctionID: a.ID,
				BidderID:  b.bidder,
				Amount:    decimal.RequireFromString(b.amount),
			})
			if err != nil {
				logrus.Fatalf("Failed to place bid on %q: %v", d.title, err)
			}
		}
		fmt.Printf("Created auction %s (%s)\n", a.ID, d.title)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, 7*24*time.Hour)
	if err != nil {
		logrus.Fatalf("Failed to create token service: %v", err)
	}
	for _, user := range []string{"seller", "alice", "bob"} {
		token, err := tokens.Issue(user)
		if err != nil {
			logrus.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Printf("%s: %s\n", user, token)
	}
}
