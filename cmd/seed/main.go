// Command seed loads tenant definitions from a JSON file into the database.
// Used to provision local and demo environments:
//
//	DATABASE_URL=... go run ./cmd/seed testdata/tenants.example.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citabot/citabot/internal/tenants"
)

type seedFile struct {
	Tenants []seedTenant `json:"tenants"`
}

type seedTenant struct {
	Name                      string             `json:"name"`
	Industry                  string             `json:"industry"`
	Schedule                  string             `json:"schedule"`
	CatalogURL                string             `json:"catalog_url"`
	WhatsAppNumber            string             `json:"whatsapp_number"`
	CalendarID                string             `json:"calendar_id"`
	Timezone                  string             `json:"timezone"`
	ConfirmationTemplate      string             `json:"confirmation_template"`
	AllowParallelAppointments bool               `json:"allow_parallel_appointments"`
	Slots                     []tenants.SlotSpec `json:"slots"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: seed <tenants-file.json>")
		os.Exit(1)
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("read seed file: %v", err)
	}
	var file seedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		log.Fatalf("parse seed file: %v", err)
	}
	if len(file.Tenants) == 0 {
		log.Fatal("seed file has no tenants")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	repo := tenants.NewRepository(pool)
	for _, st := range file.Tenants {
		if st.Name == "" || st.WhatsAppNumber == "" {
			log.Fatalf("tenant %q: name and whatsapp_number are required", st.Name)
		}
		t := &tenants.Tenant{
			Name:                      st.Name,
			Industry:                  st.Industry,
			Schedule:                  st.Schedule,
			CatalogURL:                st.CatalogURL,
			WhatsAppNumber:            st.WhatsAppNumber,
			CalendarID:                st.CalendarID,
			Timezone:                  st.Timezone,
			ConfirmationTemplate:      st.ConfirmationTemplate,
			AllowParallelAppointments: st.AllowParallelAppointments,
			Slots:                     st.Slots,
		}
		if err := repo.Create(ctx, t); err != nil {
			log.Fatalf("create tenant %q: %v", st.Name, err)
		}
		fmt.Printf("created tenant %s (%s) for %s\n", t.ID, t.Name, t.WhatsAppNumber)
	}
}
