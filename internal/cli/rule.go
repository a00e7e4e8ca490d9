package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"eventcal/internal/recurrence"
)

// NewRuleCommand groups the offline recurrence rule tools.
func NewRuleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Encode, decode and expand recurrence rules",
	}
	cmd.AddCommand(newRuleEncodeCommand(rootOpts))
	cmd.AddCommand(newRuleDecodeCommand(rootOpts))
	cmd.AddCommand(newRuleExpandCommand(rootOpts))
	return cmd
}

// EncodeResult is the output of rule encode.
type EncodeResult struct {
	Rule        string `json:"rule"`
	Description string `json:"description"`
}

func (r EncodeResult) String() string {
	return r.Rule + "\n" + r.Description
}

type encodeFlags struct {
	pattern  string
	interval int
	until    string
	days     []string
}

func newRuleEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	var fl encodeFlags
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode recurrence options into a rule string",
		Example: `  eventcal rule encode --pattern weekly --days mon,wed,fri --until 2025-03-01
  eventcal rule encode --pattern monthly --interval 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			spec, err := fl.spec()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInput, err)
			}
			rule, err := recurrence.Encode(spec)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInput, err)
			}
			return f.Success(EncodeResult{Rule: rule, Description: recurrence.Describe(spec)})
		},
	}
	cmd.Flags().StringVar(&fl.pattern, "pattern", "", "daily, weekly, monthly or yearly")
	cmd.Flags().IntVar(&fl.interval, "interval", 1, "repeat every N units")
	cmd.Flags().StringVar(&fl.until, "until", "", "last date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&fl.days, "days", nil, "weekdays for weekly rules (mon,tue,... or 0-6 with 0=Sunday)")
	_ = cmd.MarkFlagRequired("pattern")
	return cmd
}

func (fl encodeFlags) spec() (recurrence.Spec, error) {
	pattern, err := recurrence.ParsePattern(fl.pattern)
	if err != nil {
		return recurrence.Spec{}, err
	}
	spec := recurrence.Spec{Pattern: pattern, Interval: fl.interval}
	if fl.until != "" {
		d, err := recurrence.ParseDate(fl.until)
		if err != nil {
			return recurrence.Spec{}, fmt.Errorf("--until: %w", err)
		}
		spec.EndDate = &d
	}
	for _, s := range fl.days {
		d, err := parseWeekday(s)
		if err != nil {
			return recurrence.Spec{}, err
		}
		spec.DaysOfWeek = append(spec.DaysOfWeek, d)
	}
	return spec, nil
}

// parseWeekday accepts 0-6 (Sunday first) or an English day name of at
// least two letters.
func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("%w: %d", recurrence.ErrInvalidWeekday, n)
		}
		return time.Weekday(n), nil
	}
	if len(s) >= 2 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.HasPrefix(strings.ToLower(d.String()), s) {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", recurrence.ErrInvalidWeekday, s)
}

// DecodeResult is the output of rule decode.
type DecodeResult struct {
	Spec        recurrence.Spec `json:"spec"`
	Description string          `json:"description"`
	RRule       string          `json:"rrule"`
}

func (r DecodeResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pattern:     %s\n", r.Spec.Pattern)
	fmt.Fprintf(&b, "interval:    %d\n", r.Spec.EffectiveInterval())
	if len(r.Spec.DaysOfWeek) > 0 {
		days := make([]string, len(r.Spec.DaysOfWeek))
		for i, d := range r.Spec.DaysOfWeek {
			days[i] = d.String()[:3]
		}
		fmt.Fprintf(&b, "days:        %s\n", strings.Join(days, ", "))
	}
	if r.Spec.EndDate != nil {
		fmt.Fprintf(&b, "until:       %s\n", r.Spec.EndDate)
	}
	fmt.Fprintf(&b, "description: %s\n", r.Description)
	fmt.Fprintf(&b, "rrule:       %s", r.RRule)
	return b.String()
}

func newRuleDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:           "decode <rule>",
		Short:         "Decode a stored rule string",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			spec, err := recurrence.Decode(args[0])
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeRule, err)
			}
			if spec == nil {
				return f.Fail(ExitFailure, ErrCodeRule, fmt.Errorf("empty rule: the event does not recur"))
			}

			dtstart := time.Now().UTC()
			if start != "" {
				if dtstart, err = time.Parse(time.RFC3339, start); err != nil {
					return f.Fail(ExitCommandError, ErrCodeInput, fmt.Errorf("--start: %w", err))
				}
			}
			rr, err := recurrence.ToRRule(*spec, dtstart)
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeRule, err)
			}
			return f.Success(DecodeResult{
				Spec:        *spec,
				Description: recurrence.Describe(*spec),
				RRule:       rr.OrigOptions.RRuleString(),
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "anchor for the RFC 5545 rule (RFC 3339, default now)")
	return cmd
}

// ExpandResult is the output of rule expand.
type ExpandResult struct {
	Rule        string                  `json:"rule"`
	Description string                  `json:"description"`
	Occurrences []recurrence.Occurrence `json:"occurrences"`
}

const occurrenceLayout = "Mon 2006-01-02 15:04 MST"

func (r ExpandResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d occurrences", r.Description, len(r.Occurrences))
	for _, o := range r.Occurrences {
		fmt.Fprintf(&b, "\n%s  %s", o.Start.Format(occurrenceLayout), o.End.Format(occurrenceLayout))
	}
	return b.String()
}

func newRuleExpandCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		start, end string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "expand <rule>",
		Short: "Expand a rule from a base occurrence",
		Example: `  eventcal rule expand "FREQ=WEEKLY;BYDAY=MO,WE" --start 2025-01-15T19:00:00+01:00
  eventcal rule expand FREQ=MONTHLY --start 2025-01-31T09:00:00Z --end 2025-01-31T10:00:00Z --limit 12`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

			base, err := parseBase(start, end)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInput, err)
			}
			spec, err := recurrence.Decode(args[0])
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeRule, err)
			}
			if spec == nil {
				return f.Fail(ExitFailure, ErrCodeRule, fmt.Errorf("empty rule: the event does not recur"))
			}

			f.VerboseLog("expanding %q from %s with limit %d", args[0], base.Start.Format(time.RFC3339), recurrence.NormalizeLimit(limit))
			return f.Success(ExpandResult{
				Rule:        args[0],
				Description: recurrence.Describe(*spec),
				Occurrences: recurrence.ExpandSpec(base, *spec, limit),
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "base occurrence start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "base occurrence end (RFC 3339, default start+2h)")
	cmd.Flags().IntVar(&limit, "limit", recurrence.DefaultLimit, "occurrence cap (also a day window), at most 1000")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func parseBase(start, end string) (recurrence.Base, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return recurrence.Base{}, fmt.Errorf("--start: %w", err)
	}
	base := recurrence.Base{Start: s}
	if end != "" {
		e, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return recurrence.Base{}, fmt.Errorf("--end: %w", err)
		}
		if e.Before(s) {
			return recurrence.Base{}, fmt.Errorf("--end is before --start")
		}
		base.End = &e
	}
	return base, nil
}
