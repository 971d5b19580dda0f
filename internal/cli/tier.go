package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/access"
)

// TierOptions holds flags for the tier command.
type TierOptions struct {
	*RootOptions
	Token string
	Tier  string
	At    string
}

// TierReport is the tier command's payload.
type TierReport struct {
	Subject        string        `json:"subject,omitempty"`
	Authenticated  bool          `json:"authenticated"`
	SessionExpired bool          `json:"session_expired,omitempty"`
	Tier           string        `json:"tier"`
	Limits         access.Limits `json:"limits"`
	CreateDenial   string        `json:"create_denial,omitempty"`
}

// NewTierCommand creates the tier command.
func NewTierCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TierOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tier",
		Short: "Show the access tier and limits for a session",
		Long: `Derive the access tier from a session token and print its limits.

Without --token the token is read from $` + EnvToken + `; an empty token is the
anonymous visitor. --tier skips the token and shows a tier's limits directly.

Example:
  eventsync tier --token "$TOKEN"
  eventsync tier --tier premium --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTier(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "session token (default $"+EnvToken+")")
	cmd.Flags().StringVar(&opts.Tier, "tier", "", "show limits of this tier (unregistered|registered|premium)")
	cmd.Flags().StringVar(&opts.At, "at", "", "evaluate at this RFC3339 time instead of now")

	return cmd
}

func runTier(opts *TierOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	policy, err := access.NewPolicy(cfg.Tiers)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "tier table rejected", err)
	}

	now := time.Now()
	if opts.At != "" {
		now, err = time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("invalid --at %q", opts.At), err)
		}
	}

	var report TierReport
	var tier access.Tier
	if opts.Tier != "" {
		tier, err = access.ParseTier(opts.Tier)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("unknown tier %q", opts.Tier), err)
		}
	} else {
		token := opts.Token
		if token == "" {
			token = envOr(EnvToken, "")
		}
		actor, err := access.ParseSession(token, now)
		switch {
		case errors.Is(err, access.ErrSessionExpired):
			report.SessionExpired = true
		case err != nil:
			return formatter.Fail(ExitCommandError, ErrCodeSession, "cannot read session token", err)
		}
		report.Subject = actor.ID
		report.Authenticated = actor.Authenticated
		tier = actor.TierAt(now)
	}

	report.Tier = tier.String()
	report.Limits = policy.LimitsFor(tier)
	if !report.Limits.CanCreateEvents {
		report.CreateDenial = policy.DenialMessage(tier, access.ReasonCapability)
	}
	formatter.VerboseLog("tier %s evaluated at %s", report.Tier, now.Format(time.RFC3339))

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	return outputTier(formatter, report)
}

func outputTier(formatter *OutputFormatter, r TierReport) error {
	w := formatter.Writer
	who := "anonymous"
	if r.Subject != "" {
		who = r.Subject
	}
	fmt.Fprintf(w, "Tier: %s (%s)\n", r.Tier, who)
	if r.SessionExpired {
		fmt.Fprintln(w, "Session expired")
	}
	l := r.Limits
	fmt.Fprintf(w, "  radius:        %g km\n", l.MaxRadiusKm)
	fmt.Fprintf(w, "  date window:   %d days\n", l.MaxDateWindowDays)
	fmt.Fprintf(w, "  events/day:    %d\n", l.MaxEventsPerDay)
	fmt.Fprintf(w, "  create/edit/delete: %t/%t/%t\n", l.CanCreateEvents, l.CanEditEvents, l.CanDeleteEvents)
	fmt.Fprintf(w, "  features:      %s\n", strings.Join(l.Features, ", "))
	if r.CreateDenial != "" {
		fmt.Fprintf(w, "  %s\n", r.CreateDenial)
	}
	return nil
}
