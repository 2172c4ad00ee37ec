// caseworker drains the job queue and drives the Run Supervisor: it is
// the process that actually walks cases through the case graph in
// response to inbound mail, human decisions, and scheduled follow-ups.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/smilemakc/caseorch/internal/caseexec"
	"github.com/smilemakc/caseorch/internal/casegraph"
	"github.com/smilemakc/caseorch/internal/checkpoint"
	"github.com/smilemakc/caseorch/internal/config"
	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/llm"
	"github.com/smilemakc/caseorch/internal/mail"
	"github.com/smilemakc/caseorch/internal/migrate"
	"github.com/smilemakc/caseorch/internal/notify"
	"github.com/smilemakc/caseorch/internal/portal"
	"github.com/smilemakc/caseorch/internal/queue"
	"github.com/smilemakc/caseorch/internal/store"
	"github.com/smilemakc/caseorch/internal/supervisor"
	"github.com/smilemakc/caseorch/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Setup(cfg.LogLevel)

	db := store.New(cfg.DatabaseDSN)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("caseworker: database unreachable")
	}

	migrator, err := migrate.New(db.DB())
	if err != nil {
		log.Fatal().Err(err).Msg("caseworker: failed to build migrator")
	}
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("caseworker: failed to apply migrations")
	}

	provider := llmProvider(cfg)
	mailer := mailProvider(cfg)
	notifier := notifyChannel(cfg)
	emailQueue := caseexec.NewInMemoryEmailQueue()
	executor := caseexec.New(db, emailQueue, mailer, notifier, cfg.FromAddress, cfg.FollowupDelayDays, cfg.ExecutionMode)

	graph := casegraph.New(db, provider, executor, casegraph.Config{
		MaxFollowups:        cfg.MaxFollowups,
		FollowupDelayDays:   cfg.FollowupDelayDays,
		FeeAutoApproveMax:   cfg.FeeAutoApproveMax,
		FeeModerateMax:      cfg.FeeModerateMax,
		MaxIterations:       cfg.MaxIterations,
		DefaultDeadlineDays: casegraph.DefaultConfig().DefaultDeadlineDays,
		ExecutionMode:       cfg.ExecutionMode,
	})

	sup := supervisor.New(db, checkpoint.New(db), graph)
	dispatcher := portal.NewDispatcher(db)

	q := queue.NewInMemoryQueue(256)
	scheduler := queue.NewScheduler(q, cfg.FollowupPollInterval, func(ctx context.Context) ([]string, error) {
		return db.ListCasesDueForFollowup(ctx, domain.Now())
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	log.Info().Str("log_level", cfg.LogLevel).Msg("caseworker: starting")

	q.Drain(ctx, 8, func(ctx context.Context, job queue.Job) error {
		return handleJob(ctx, sup, dispatcher, db, job)
	})

	log.Info().Msg("caseworker: stopped")
}

func handleJob(ctx context.Context, sup *supervisor.Supervisor, dispatcher *portal.Dispatcher, st domain.Storage, job queue.Job) error {
	switch job.Type {
	case queue.JobRunOnInbound:
		result, err := sup.Invoke(ctx, job.CaseID, domain.TriggerInboundMessage, supervisor.InvokeOptions{TriggerMessageID: job.Options.MessageID})
		return logResult(job, result, err)
	case queue.JobRunOnSchedule:
		result, err := sup.Invoke(ctx, job.CaseID, domain.TriggerScheduledFollowup, supervisor.InvokeOptions{})
		return logResult(job, result, err)
	case queue.JobResumeFromHuman:
		if job.HumanDecision == nil {
			log.Error().Str("job_id", job.ID).Msg("caseworker: resume_from_human job missing decision")
			return nil
		}
		result, err := sup.Resume(ctx, job.CaseID, *job.HumanDecision)
		if err != nil {
			return logResult(job, result, err)
		}
		return attemptPortalIfNeeded(ctx, dispatcher, st, job.CaseID, result)
	default:
		log.Error().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("caseworker: unknown job type")
		return nil
	}
}

// attemptPortalIfNeeded runs after a resumed run and, for a case with
// a portal, logs that the portal-bound case completed a run. It does
// not call Dispatcher.Attempt: the portal task caseexec persisted
// PENDING stays PENDING.
func attemptPortalIfNeeded(ctx context.Context, dispatcher *portal.Dispatcher, st domain.Storage, caseID string, result supervisor.Result) error {
	c, err := st.GetCase(ctx, caseID)
	if err != nil || c == nil || !c.HasPortal() {
		return err
	}
	log.Debug().Str("case_id", caseID).Str("run_id", result.RunID).Msg("caseworker: portal-bound case completed a run")
	return nil
}

func logResult(job queue.Job, result supervisor.Result, err error) error {
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Str("case_id", job.CaseID).Msg("caseworker: run failed")
		return err
	}
	log.Info().Str("job_id", job.ID).Str("case_id", job.CaseID).Str("run_id", result.RunID).
		Str("status", string(result.Status)).Msg("caseworker: run finished")
	return nil
}

func llmProvider(cfg *config.Config) llm.Provider {
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("caseworker: OPENAI_API_KEY not set, using the mock LLM provider")
		return llm.NewMockProvider()
	}
	p, err := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.LLMModel)
	if err != nil {
		log.Fatal().Err(err).Msg("caseworker: failed to construct OpenAI provider")
	}
	return p
}

func mailProvider(cfg *config.Config) mail.Provider {
	if cfg.ExecutionMode == domain.ExecutionDry || cfg.MailEndpoint == "" {
		log.Warn().Msg("caseworker: no mail provider endpoint configured, using the dry-run provider")
		return mail.NewDryRunProvider()
	}
	return mail.NewHTTPProvider(cfg.MailEndpoint, cfg.MailAPIKey)
}

func notifyChannel(cfg *config.Config) notify.Channel {
	if cfg.SlackWebhookURL == "" {
		return notify.NoopChannel{}
	}
	return notify.NewSlackWebhookChannel(cfg.SlackWebhookURL)
}
