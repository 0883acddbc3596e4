package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Manage flows",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents within a flow",
}

func init() {
	flowCmd.AddCommand(flowStartCmd)
	flowCmd.AddCommand(flowAdvanceCmd)
	flowCmd.AddCommand(flowHistoryCmd)
	flowCmd.AddCommand(flowWaitCmd)

	agentCmd.AddCommand(agentRegisterCmd)
	agentCmd.AddCommand(agentUpdateCmd)
	agentCmd.AddCommand(agentErrorCmd)
	agentCmd.AddCommand(agentMessagesCmd)

	agentRegisterCmd.Flags().StringVar(&agentName, "name", "", "display name for the agent")
	agentUpdateCmd.Flags().StringVar(&agentState, "state", "active", "lifecycle state (idle|active|completed|error)")
	agentUpdateCmd.Flags().StringVar(&agentTask, "task", "", "current task description")
	agentUpdateCmd.Flags().Float64Var(&agentProgress, "progress", -1, "progress fraction in [0,1]")
	flowWaitCmd.Flags().Float64Var(&waitTimeout, "timeout", 0, "deadline in seconds (0 waits indefinitely)")
}

var (
	agentName     string
	agentState    string
	agentTask     string
	agentProgress float64
	waitTimeout   float64
)

var flowStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new flow and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := doJSON(http.MethodPost, "/v1/flows", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var flowAdvanceCmd = &cobra.Command{
	Use:   "advance <flow-id> <event>",
	Short: "Apply an event (start|run|pause|resume|complete|cancel|fail)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		body := map[string]string{"event": args[1]}
		if err := doJSON(http.MethodPost, "/v1/flows/"+args[0]+"/advance", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var flowHistoryCmd = &cobra.Command{
	Use:   "history <flow-id>",
	Short: "Print a flow's state history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := doJSON(http.MethodGet, "/v1/flows/"+args[0]+"/history", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var flowWaitCmd = &cobra.Command{
	Use:   "wait <flow-id>",
	Short: "Block until all of a flow's agents complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]float64{"timeout_seconds": waitTimeout}
		if err := doJSON(http.MethodPost, "/v1/flows/"+args[0]+"/wait", body, nil); err != nil {
			return err
		}
		fmt.Println("completed")
		return nil
	},
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register <flow-id> <agent-id>",
	Short: "Register an agent with a flow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"agent_id": args[1], "name": agentName}
		return doJSON(http.MethodPost, "/v1/flows/"+args[0]+"/agents", body, nil)
	},
}

var agentUpdateCmd = &cobra.Command{
	Use:   "update <flow-id> <agent-id>",
	Short: "Update an agent's lifecycle state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"state": agentState, "task": agentTask}
		if agentProgress >= 0 {
			body["progress"] = agentProgress
		}
		return doJSON(http.MethodPatch, "/v1/flows/"+args[0]+"/agents/"+args[1], body, nil)
	},
}

var agentErrorCmd = &cobra.Command{
	Use:   "error <flow-id> <agent-id> <message>",
	Short: "Record an agent error",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"error": args[2]}
		return doJSON(http.MethodPost, "/v1/flows/"+args[0]+"/agents/"+args[1]+"/error", body, nil)
	},
}

var agentMessagesCmd = &cobra.Command{
	Use:   "messages <flow-id> <agent-id>",
	Short: "Drain and print an agent's inbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := doJSON(http.MethodGet, "/v1/flows/"+args[0]+"/agents/"+args[1]+"/messages", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}
