// casectl is the operator CLI for the case orchestration engine:
// running schema migrations, inspecting a case's current state, and
// enqueuing jobs by hand for local testing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/smilemakc/caseorch/internal/config"
	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/importer"
	"github.com/smilemakc/caseorch/internal/migrate"
	"github.com/smilemakc/caseorch/internal/queue"
	"github.com/smilemakc/caseorch/internal/store"
)

const usage = `casectl - case orchestration engine operator CLI

USAGE:
    casectl <command> [options]

COMMANDS:
    migrate init              Create migration bookkeeping tables
    migrate up                Apply every pending migration
    migrate down               Roll back the most recent migration group
    migrate status             Show applied/pending migrations
    case show <id>              Print a case's current stored state
    enqueue inbound <caseId> <messageId>   Enqueue a run_on_inbound job
    enqueue schedule <caseId>              Enqueue a run_on_schedule job
    import notion                          Sync new cases from Notion
    help                                    Show this help message

CONNECTION:
    Reads DATABASE_DSN (and the rest of the process environment) the
    same way caseworker/casedash do.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg := config.Load()
	ctx := context.Background()

	switch os.Args[1] {
	case "migrate":
		runMigrate(ctx, cfg, os.Args[2:])
	case "case":
		runCaseShow(ctx, cfg, os.Args[2:])
	case "enqueue":
		runEnqueue(ctx, os.Args[2:])
	case "import":
		runImport(ctx, cfg, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "casectl: unknown command %q\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) *store.Store {
	return store.New(cfg.DatabaseDSN)
}

func runMigrate(ctx context.Context, cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "casectl: migrate requires a subcommand (init, up, down, status)")
		os.Exit(1)
	}
	db := openStore(cfg)
	defer db.Close()

	migrator, err := migrate.New(db.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "casectl: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "init":
		must(migrator.Init(ctx))
	case "up":
		must(migrator.Up(ctx))
	case "down":
		must(migrator.Down(ctx))
	case "status":
		statuses, err := migrator.Status(ctx)
		must(err)
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%-40s %s\n", s.Name, state)
		}
	default:
		fmt.Fprintf(os.Stderr, "casectl: unknown migrate subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func runCaseShow(ctx context.Context, cfg *config.Config, args []string) {
	if len(args) < 1 || args[0] != "show" {
		fmt.Fprintln(os.Stderr, "casectl: case requires a subcommand (show)")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("case show", flag.ExitOnError)
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "casectl: %v\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "casectl: case show requires a case id")
		os.Exit(1)
	}
	caseID := fs.Arg(0)

	db := openStore(cfg)
	defer db.Close()

	c, err := db.GetCase(ctx, caseID)
	must(err)
	if c == nil {
		fmt.Fprintf(os.Stderr, "casectl: no case with id %q\n", caseID)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(c, "", "  ")
	must(err)
	fmt.Println(string(out))
}

func runEnqueue(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "casectl: enqueue requires a subcommand (inbound, schedule)")
		os.Exit(1)
	}

	// casectl's queue is process-local, so an enqueue here only proves
	// out the job shape — it never reaches a running caseworker. Wire
	// a shared/durable Queue implementation before relying on this for
	// anything beyond local smoke-testing.
	q := queue.NewInMemoryQueue(1)

	switch args[0] {
	case "inbound":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "casectl: enqueue inbound requires <caseId> <messageId>")
			os.Exit(1)
		}
		jobID, err := q.Enqueue(ctx, queue.Job{
			Type:        queue.JobRunOnInbound,
			CaseID:      args[1],
			TriggerType: domain.TriggerInboundMessage,
			Options:     queue.JobOptions{MessageID: args[2]},
		})
		must(err)
		fmt.Printf("enqueued run_on_inbound job %s\n", jobID)
	case "schedule":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "casectl: enqueue schedule requires <caseId>")
			os.Exit(1)
		}
		jobID, err := q.Enqueue(ctx, queue.Job{
			Type:        queue.JobRunOnSchedule,
			CaseID:      args[1],
			TriggerType: domain.TriggerScheduledFollowup,
		})
		must(err)
		fmt.Printf("enqueued run_on_schedule job %s\n", jobID)
	default:
		fmt.Fprintf(os.Stderr, "casectl: unknown enqueue subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func runImport(ctx context.Context, cfg *config.Config, args []string) {
	if len(args) < 1 || args[0] != "notion" {
		fmt.Fprintln(os.Stderr, "casectl: import requires a subcommand (notion)")
		os.Exit(1)
	}
	if cfg.NotionAPIKey == "" || cfg.NotionDatabaseID == "" {
		fmt.Fprintln(os.Stderr, "casectl: NOTION_API_KEY and NOTION_DATABASE_ID are required")
		os.Exit(1)
	}

	db := openStore(cfg)
	defer db.Close()

	client := importer.NewNotionClient(cfg.NotionAPIBase, cfg.NotionAPIKey, cfg.NotionDatabaseID)
	imp := importer.New(client, db)

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := imp.Sync(timeoutCtx)
	must(err)
	fmt.Printf("imported %d new case(s), skipped %d existing\n", result.Created, result.Skipped)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "casectl: %v\n", err)
		os.Exit(1)
	}
}
