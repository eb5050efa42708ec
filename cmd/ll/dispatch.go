package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDispatchCmd() *cobra.Command {
	var (
		leadID uint
		data   []string
	)

	cmd := &cobra.Command{
		Use:   "dispatch <event-type>",
		Short: "Dispatch an external event to matching agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}

			eventData := make(map[string]string, len(data)+1)
			for _, kv := range data {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("dispatch: --data %q is not key=value", kv)
				}
				eventData[key] = value
			}
			if leadID != 0 {
				eventData["lead_id"] = fmt.Sprint(leadID)
			}

			sessionIDs, err := d.dispatcher.Dispatch(args[0], eventData)
			if err != nil {
				return err
			}
			if len(sessionIDs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions created")
				return nil
			}
			for _, id := range sessionIDs {
				fmt.Fprintf(cmd.OutOrStdout(), "Created session %d\n", id)
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&leadID, "lead", 0, "lead id (shorthand for --data lead_id=N)")
	cmd.Flags().StringArrayVar(&data, "data", nil, "event payload field key=value (repeatable)")
	return cmd
}
