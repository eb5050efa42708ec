package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/session"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manual session control",
	}
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newTakeoverCmd())
	cmd.AddCommand(newReleaseCmd())
	cmd.AddCommand(newEndCmd())
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's status and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			s, err := session.Get(d.db, id)
			if err != nil {
				return err
			}

			var pending int64
			d.db.Model(&models.FollowUpTask{}).
				Where("session_id = ? AND status = ?", s.ID, models.TaskPending).
				Count(&pending)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %d\n", s.ID)
			fmt.Fprintf(out, "  status:        %s\n", s.Status)
			fmt.Fprintf(out, "  agent/lead:    %d/%d\n", s.AgentID, s.LeadID)
			fmt.Fprintf(out, "  goal:          %s\n", s.Goal)
			fmt.Fprintf(out, "  messages:      %d/%d (last from %s at %s)\n",
				s.MessageCount, s.MaxMessageCount, s.LastMessageFrom, s.LastMessageAt.Format(time.RFC3339))
			fmt.Fprintf(out, "  pending tasks: %d\n", pending)
			if s.EndReason != "" {
				fmt.Fprintf(out, "  end reason:    %s\n", s.EndReason)
			}
			if s.EscalatedTo != "" {
				fmt.Fprintf(out, "  escalated to:  %s\n", s.EscalatedTo)
			}
			return nil
		},
	}
}

func parseSessionID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("session: bad id %q", arg)
	}
	return uint(id), nil
}

func newTakeoverCmd() *cobra.Command {
	var (
		actor  string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "takeover <session-id>",
		Short: "Suspend automated replies and take over a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			if err := d.controller.Takeover(id, actor, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %d taken over\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "operator", "who is taking over")
	cmd.Flags().StringVar(&reason, "reason", "", "why")
	return cmd
}

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <session-id>",
		Short: "Return a taken-over session to automated handling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			if err := d.controller.Release(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %d released\n", id)
			return nil
		},
	}
}

func newEndCmd() *cobra.Command {
	var (
		reason      string
		escalatedTo string
	)

	cmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "Complete a session and cancel its pending follow-ups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			if err := d.controller.End(id, reason, escalatedTo); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %d ended\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "completed", "end reason")
	cmd.Flags().StringVar(&escalatedTo, "escalated-to", "", "who inherits the conversation")
	return cmd
}
