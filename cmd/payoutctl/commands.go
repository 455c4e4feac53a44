package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/internal/invoices"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
)

type cli struct {
	boot    bootstrapFunc
	backend *backend
}

func newRootCmd(boot bootstrapFunc) *cobra.Command {
	c := &cli{boot: boot}
	root := &cobra.Command{
		Use:           "payoutctl",
		Short:         "Operator actions for invoices, settlements, payouts and reconciliation",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.boot(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if b.Now == nil {
				b.Now = time.Now
			}
			c.backend = b
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.backend == nil || c.backend.Close == nil {
				return nil
			}
			return c.backend.Close()
		},
	}
	root.AddCommand(
		c.invoicesCmd(),
		c.billingCmd(),
		c.settlementsCmd(),
		c.payoutsCmd(),
		c.reconcileCmd(),
		c.ledgerCmd(),
		c.tenantsCmd(),
		c.devicesCmd(),
		c.printJobsCmd(),
		c.outboxCmd(),
	)
	return root
}

func (c *cli) invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "invoices", Short: "Partner invoices"}

	var partner, period string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate the invoice of a partner for a month (YYYY-MM)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			partnerID, err := parseID("partner", partner)
			if err != nil {
				return err
			}
			inv, err := c.backend.Invoices.Generate(cmd.Context(), partnerID, period)
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.FromInvoice(inv))
		},
	}
	generate.Flags().StringVar(&partner, "partner", "", "partner id")
	generate.Flags().StringVar(&period, "period", "", "billing month, YYYY-MM")
	_ = generate.MarkFlagRequired("partner")
	_ = generate.MarkFlagRequired("period")

	charge := &cobra.Command{
		Use:   "charge <invoice-id>",
		Short: "Charge an open invoice through the payout provider",
		Args:  cobra.ExactArgs(1),
		RunE: c.invoiceAction(func(ctx context.Context, id uuid.UUID) (any, error) {
			inv, err := c.backend.Invoices.Charge(ctx, id)
			return dto.FromInvoice(inv), err
		}),
	}
	markPaid := &cobra.Command{
		Use:   "mark-paid <invoice-id>",
		Short: "Mark an invoice as paid",
		Args:  cobra.ExactArgs(1),
		RunE: c.invoiceAction(func(ctx context.Context, id uuid.UUID) (any, error) {
			inv, err := c.backend.Invoices.MarkPaid(ctx, id)
			return dto.FromInvoice(inv), err
		}),
	}

	cmd.AddCommand(generate, charge, markPaid)
	return cmd
}

func (c *cli) invoiceAction(fn func(ctx context.Context, id uuid.UUID) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID("invoice", args[0])
		if err != nil {
			return err
		}
		out, err := fn(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	}
}

func (c *cli) billingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "billing", Short: "Monthly partner billing"}

	var period string
	run := &cobra.Command{
		Use:   "run",
		Short: "Generate and charge invoices for every partner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if period == "" {
				period = invoices.PreviousPeriod(c.backend.Now().UTC())
			}
			report, err := c.backend.Invoices.RunMonthlyBilling(cmd.Context(), period)
			if perr := printJSON(cmd, report); perr != nil {
				return perr
			}
			for _, e := range multierr.Errors(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
			}
			return err
		},
	}
	run.Flags().StringVar(&period, "period", "", "billing month, YYYY-MM (defaults to the previous month)")

	cmd.AddCommand(run)
	return cmd
}

func (c *cli) settlementsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "settlements", Short: "Partner settlements"}

	var partner, start, end string
	finalize := &cobra.Command{
		Use:   "finalize",
		Short: "Compute a partner settlement and queue its payout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			partnerID, err := parseID("partner", partner)
			if err != nil {
				return err
			}
			periodStart, err := parseTime("start", start)
			if err != nil {
				return err
			}
			periodEnd, err := parseTime("end", end)
			if err != nil {
				return err
			}
			if !periodEnd.After(periodStart) {
				return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
			}
			out, err := c.backend.Settlements.Finalize(cmd.Context(), partnerID, periodStart, periodEnd)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"settlement": dto.FromSettlement(out.Settlement),
				"payout_job": dto.FromPayoutJob(out.PayoutJob),
			})
		},
	}
	finalize.Flags().StringVar(&partner, "partner", "", "partner id")
	finalize.Flags().StringVar(&start, "start", "", "period start, RFC3339 or YYYY-MM-DD")
	finalize.Flags().StringVar(&end, "end", "", "period end (exclusive), RFC3339 or YYYY-MM-DD")
	for _, name := range []string{"partner", "start", "end"} {
		_ = finalize.MarkFlagRequired(name)
	}

	integrity := &cobra.Command{
		Use:   "integrity <settlement-id>",
		Short: "Compare a settlement with the ledger without paying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("settlement", args[0])
			if err != nil {
				return err
			}
			result, err := c.backend.Payouts.CheckSettlement(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.AddCommand(finalize, integrity)
	return cmd
}

func (c *cli) payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payouts", Short: "Payout jobs"}

	process := &cobra.Command{
		Use:   "process <payout-job-id>",
		Short: "Run the integrity gate and transfer for one payout job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("payout job", args[0])
			if err != nil {
				return err
			}
			job, err := c.backend.Payouts.Process(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.FromPayoutJob(job))
		},
	}

	var limit int
	dispatch := &cobra.Command{
		Use:   "dispatch",
		Short: "Process every payout job whose next attempt is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.backend.Payouts.DispatchDue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	dispatch.Flags().IntVar(&limit, "limit", 0, "maximum jobs to pick (0 uses the configured batch)")

	cmd.AddCommand(process, dispatch)
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reconcile", Short: "Ledger versus provider reconciliation"}

	var provider string
	var paymentIDs []string
	run := &cobra.Command{
		Use:   "run",
		Short: "Reconcile the lookback window, or only the given payment ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.backend.Reconciler.Run(cmd.Context(), strings.ToLower(provider), paymentIDs)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	run.Flags().StringVar(&provider, "provider", "", "payment provider, e.g. asaas")
	run.Flags().StringSliceVar(&paymentIDs, "payment-id", nil, "provider payment id (repeatable)")
	_ = run.MarkFlagRequired("provider")

	var showProvider string
	show := &cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show the last reconciliation result of one payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.backend.Reconciler.Lookup(cmd.Context(), showProvider, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.FromReconciliationRecord(rec))
		},
	}
	show.Flags().StringVar(&showProvider, "provider", "", "payment provider, e.g. asaas")
	_ = show.MarkFlagRequired("provider")

	cmd.AddCommand(run, show)
	return cmd
}

func (c *cli) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Transaction effects"}

	var targetType, target string
	entries := &cobra.Command{
		Use:   "entries",
		Short: "List the effects of a partner or tenant balance with a running total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := enums.ParseEffectTargetType(strings.TrimSpace(targetType))
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target type")
			}
			id, err := parseID("target", target)
			if err != nil {
				return err
			}
			effects, err := c.backend.Ledger.Entries(cmd.Context(), parsed, id)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
			}
			return printJSON(cmd, dto.FromLedgerEntries(effects))
		},
	}
	entries.Flags().StringVar(&targetType, "target-type", string(enums.EffectTargetPartnerBalance), "partner_balance or tenant_balance")
	entries.Flags().StringVar(&target, "target", "", "partner or tenant id")
	_ = entries.MarkFlagRequired("target")

	cmd.AddCommand(entries)
	return cmd
}

func (c *cli) tenantsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenants", Short: "Tenant plans and modules"}

	trial := &cobra.Command{
		Use:   "trial <tenant-id> <module-id>",
		Short: "Start a module trial",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, moduleID, err := parseTenantModule(args)
			if err != nil {
				return err
			}
			sub, err := c.backend.Tenants.StartModuleTrial(cmd.Context(), tenantID, moduleID, c.backend.Now().UTC())
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.FromAddonSubscription(sub))
		},
	}
	cancelPlan := &cobra.Command{
		Use:   "cancel-plan <tenant-id>",
		Short: "Cancel the tenant plan subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseID("tenant", args[0])
			if err != nil {
				return err
			}
			if err := c.backend.Tenants.CancelPlan(cmd.Context(), tenantID); err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"ok": true})
		},
	}
	cancelModule := &cobra.Command{
		Use:   "cancel-module <tenant-id> <module-id>",
		Short: "Cancel a module add-on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, moduleID, err := parseTenantModule(args)
			if err != nil {
				return err
			}
			if err := c.backend.Tenants.CancelModule(cmd.Context(), tenantID, moduleID); err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"ok": true})
		},
	}

	cmd.AddCommand(trial, cancelPlan, cancelModule)
	return cmd
}

func (c *cli) devicesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "devices", Short: "Print devices"}

	var tenant, name string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a device and print its token once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := parseID("tenant", tenant)
			if err != nil {
				return err
			}
			reg, err := c.backend.Devices.RegisterDevice(cmd.Context(), tenantID, name)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"device": dto.FromDevice(reg.Device),
				"token":  reg.Token,
			})
		},
	}
	register.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	register.Flags().StringVar(&name, "name", "", "device name")
	_ = register.MarkFlagRequired("tenant")
	_ = register.MarkFlagRequired("name")

	cmd.AddCommand(register)
	return cmd
}

func (c *cli) printJobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "print-jobs", Short: "Device print queue"}

	var tenant, payload string
	var maxAttempts int
	enqueue := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a print job for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := parseID("tenant", tenant)
			if err != nil {
				return err
			}
			if !json.Valid([]byte(payload)) {
				return pkgerrors.New(pkgerrors.CodeValidation, "payload must be valid JSON")
			}
			job, err := c.backend.PrintJobs.Enqueue(cmd.Context(), tenantID, json.RawMessage(payload), maxAttempts)
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.FromPrintJob(*job))
		},
	}
	enqueue.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	enqueue.Flags().StringVar(&payload, "payload", "", "job payload as JSON")
	enqueue.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts before the job fails (0 uses the default)")
	_ = enqueue.MarkFlagRequired("tenant")
	_ = enqueue.MarkFlagRequired("payload")

	cmd.AddCommand(enqueue)
	return cmd
}

func (c *cli) outboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "outbox", Short: "Outbox relay dead letters"}

	var eventType, eventID string
	var limit int
	deadLetters := &cobra.Command{
		Use:   "dead-letters",
		Short: "List events the relay stopped retrying, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if eventID != "" {
				id, err := parseID("event", eventID)
				if err != nil {
					return err
				}
				row, err := c.backend.DeadLetters.FindByEventID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if row == nil {
					return pkgerrors.New(pkgerrors.CodeNotFound, "event was not dead-lettered")
				}
				return printJSON(cmd, dto.FromDeadLetters([]models.OutboxDLQ{*row}))
			}
			filter := outbox.DLQFilter{Limit: limit}
			if eventType != "" {
				parsed, err := enums.ParseOutboxEventType(eventType)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event type")
				}
				filter.EventType = parsed
			}
			rows, err := c.backend.DeadLetters.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, dto.FromDeadLetters(rows))
		},
	}
	deadLetters.Flags().StringVar(&eventType, "type", "", "only this event type")
	deadLetters.Flags().StringVar(&eventID, "event", "", "show a single event id")
	deadLetters.Flags().IntVar(&limit, "limit", 0, "rows to list (0 uses the default)")

	cmd.AddCommand(deadLetters)
	return cmd
}

func parseID(label, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s id", label))
	}
	return id, nil
}

func parseTenantModule(args []string) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := parseID("tenant", args[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	moduleID, err := parseID("module", args[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, moduleID, nil
}

func parseTime(label, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid %s: use RFC3339 or YYYY-MM-DD", label))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
