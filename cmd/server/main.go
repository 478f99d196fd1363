package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/comanda-app/api/internal/clock"
	"github.com/comanda-app/api/internal/config"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/payment"
	"github.com/comanda-app/api/internal/router"
	"github.com/comanda-app/api/internal/ws"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sweepInterval bounds how stale an expired payment can get before the
// background sweep cancels it; the read path catches the rest sooner.
const sweepInterval = time.Minute

func main() {
	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	queries := database.New(pool)

	hub := ws.NewHub()
	go hub.Run()

	r := router.New(cfg, queries, pool, hub)

	// Background expiry sweep. Expired payments broadcast a table update so
	// staff screens drop the stale bill.
	pix := payment.NewPixProvider(cfg.PixKey, cfg.PixMerchantName, cfg.PixMerchantCity)
	payments := payment.NewService(queries, pool, func(db database.DBTX) payment.Store {
		return database.New(db)
	}, pix, clock.System())
	payments.StartSweeper(ctx, sweepInterval, func(expired []database.ExpiredPaymentRow) {
		for _, row := range expired {
			log.Printf("payment %s expired for table %s", row.ID, row.TableID)
			hub.Broadcast(ws.NewEvent(ws.EventPaymentUpdated, map[string]string{
				"payment_id": row.ID.String(),
				"status":     "cancelled",
			}))
		}
	}, func(err error) {
		log.Printf("ERROR: payment sweep: %v", err)
	})

	log.Printf("Starting server on :%s", cfg.Port)
	if err := http.ListenAndServe(fmt.Sprintf(":%s", cfg.Port), r); err != nil {
		log.Fatal(err)
	}
}
