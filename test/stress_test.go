package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"freightflow/auth"
	"freightflow/logging"
	"freightflow/quote"
	"freightflow/store/postgres"
	"freightflow/test/actors"
	"freightflow/test/chaos"
	"freightflow/test/infra"
	"freightflow/test/oracles"
	"freightflow/workflow"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of concurrent actors per role")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

// openDatabase provisions a migrated database from -dsn, STRESS_TEST_PG_DSN,
// a Docker container or a local server, in that order.
func openDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	var (
		pgC        = &infra.PGContainer{}
		dsn        string
		err        error
		usedShared bool
	)
	switch {
	case *flDSN != "":
		dsn, usedShared = *flDSN, true
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn, usedShared = os.Getenv("STRESS_TEST_PG_DSN"), true
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no Docker, DSN or local PostgreSQL available: %v", err)
		}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}

func seedFleet(t *testing.T, ctx context.Context, pool *pgxpool.Pool, clients, carriers int) actors.Fleet {
	t.Helper()
	users := auth.NewRepository(pool)
	seed := func(role auth.Role) workflow.Actor {
		u, err := users.CreateUser(ctx, auth.CreateUserParams{
			Email:        fmt.Sprintf("%s-%d@stress.example", role, rand.Int63()),
			FullName:     "Stress " + string(role),
			PasswordHash: "x",
			Role:         role,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		return workflow.Actor{ID: u.ID, Role: role}
	}
	var f actors.Fleet
	for i := 0; i < clients; i++ {
		f.Clients = append(f.Clients, seed(auth.RoleClient))
	}
	for i := 0; i < carriers; i++ {
		f.Carriers = append(f.Carriers, seed(auth.RoleCarrier))
	}
	return f
}

func TestAcceptRace(t *testing.T) {
	if testing.Short() {
		t.Skip("needs PostgreSQL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool := openDatabase(t, ctx)
	fleet := seedFleet(t, ctx, pool, 1, 8)
	svc := workflow.NewService(postgres.New(pool), logging.Discard()).WithLocation(time.UTC)
	client := fleet.Clients[0]

	q, err := svc.CreateQuote(ctx, client, workflow.CreateQuoteParams{
		Cargo: quote.Cargo{
			Description:  "race cargo",
			WeightKg:     decimal.NewFromInt(500),
			Volumes:      2,
			InvoiceValue: decimal.NewFromInt(10000),
			FreightPayer: quote.PayerDestination,
		},
		Route: quote.Route{
			Pickup:          quote.Address{City: "Recife", State: "PE"},
			Destination:     quote.Address{City: "Salvador", State: "BA"},
			BiddingDeadline: time.Now().Add(time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	var responses []quote.Response
	for i, c := range fleet.Carriers {
		r, err := svc.SubmitResponse(ctx, c, q.ID, workflow.ResponseParams{
			TotalValue:   decimal.NewFromInt(int64(1000 + i*10)),
			LeadTimeDays: 2,
		})
		if err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
		responses = append(responses, r)
	}

	const attempts = 16
	results := make([]error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, results[i] = svc.AcceptResponse(ctx, client, q.ID, responses[i%len(responses)].ID)
			return nil
		})
	}
	_ = g.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, quote.ErrAlreadyAccepted):
		default:
			t.Fatalf("accept %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one accepted response, got %d", winners)
	}

	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		t.Fatalf("oracles: %v", err)
	}
	if name != "" {
		t.Fatalf("oracle %s failed: %s", name, row)
	}
}

func TestWorkflowStress(t *testing.T) {
	if testing.Short() {
		t.Skip("long running")
	}
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	pool := openDatabase(t, ctx)
	fleet := seedFleet(t, ctx, pool, 2, *flConcurrency)
	st := postgres.New(pool)
	svc := workflow.NewService(st, logging.Discard()).WithLocation(time.UTC)
	stats := &actors.Stats{}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, client := range fleet.Clients {
		g.Go(func() error { return actors.Poster(ctx2, svc, client, stats, stop) })
		// two acceptors per client race for the same quotes
		g.Go(func() error { return actors.Acceptor(ctx2, svc, client, stats, stop) })
		g.Go(func() error { return actors.Acceptor(ctx2, svc, client, stats, stop) })
	}
	for _, c := range fleet.Carriers {
		g.Go(func() error { return actors.Bidder(ctx2, svc, c, stats, stop) })
		g.Go(func() error { return actors.Shipper(ctx2, svc, fleet, c, stats, stop) })
	}
	g.Go(func() error { return actors.Chatter(ctx2, svc, fleet, stats, stop) })
	g.Go(func() error { return actors.Chatter(ctx2, svc, fleet, stats, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, st, logging.Discard(), stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	oracleErrors := 0
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// chaos may kill the oracle's own connection
				if oracleErrors++; oracleErrors > 3 {
					t.Fatalf("oracle error: %v", err)
				}
				continue
			}
			oracleErrors = 0
			if name != "" {
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s", name, row)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
	t.Logf("stress finished: %s", stats)
	if stats.Succeeded.Load() == 0 {
		t.Fatalf("no workflow operation succeeded")
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"quotes", `SELECT id, status, carrier_id, agreed_value, updated_at FROM quotes ORDER BY updated_at DESC LIMIT 50`},
		{"quote_responses", `SELECT id, quote_id, carrier_id, selected FROM quote_responses ORDER BY created_at DESC LIMIT 50`},
		{"chat_messages", `SELECT chat_id, seq, sender, created_at FROM chat_messages ORDER BY created_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
