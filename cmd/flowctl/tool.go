package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Operate tool server connections",
}

var (
	toolKind    string
	toolCommand string
	toolArgs    []string
	toolURL     string
)

func init() {
	toolCmd.AddCommand(toolConnectCmd)
	toolCmd.AddCommand(toolListCmd)
	toolCmd.AddCommand(toolInvokeCmd)
	toolCmd.AddCommand(toolDisconnectCmd)

	toolConnectCmd.Flags().StringVar(&toolKind, "kind", "stdio", "transport kind (stdio|streamable)")
	toolConnectCmd.Flags().StringVar(&toolCommand, "command", "", "subprocess command for stdio transport")
	toolConnectCmd.Flags().StringSliceVar(&toolArgs, "arg", nil, "subprocess argument (repeatable)")
	toolConnectCmd.Flags().StringVar(&toolURL, "url", "", "endpoint for streamable transport")
}

var toolConnectCmd = &cobra.Command{
	Use:   "connect <server-id>",
	Short: "Connect a tool server and list its tools",
	Example: `  # Launch a stdio tool server
  flowctl tool connect files --kind stdio --command file-server --arg --root --arg /tmp

  # Attach to a streaming tool server
  flowctl tool connect search --kind streamable --url http://localhost:7777/mcp`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"server_id": args[0],
			"transport": map[string]any{
				"kind":    toolKind,
				"command": toolCommand,
				"args":    toolArgs,
				"url":     toolURL,
			},
		}
		var out map[string]any
		if err := doJSON(http.MethodPost, "/v1/tools/connect", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tool proxies",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := doJSON(http.MethodGet, "/v1/tools", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var toolInvokeCmd = &cobra.Command{
	Use:   "invoke <name> [json-arguments]",
	Short: "Invoke a tool proxy by its namespaced name",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		arguments := map[string]any{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
				return fmt.Errorf("parse arguments: %w", err)
			}
		}
		body := map[string]any{"name": args[0], "arguments": arguments}
		var out map[string]any
		if err := doJSON(http.MethodPost, "/v1/tools/invoke", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var toolDisconnectCmd = &cobra.Command{
	Use:   "disconnect [server-id]",
	Short: "Disconnect one tool server, or all when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{}
		if len(args) == 1 {
			body["server_id"] = args[0]
		}
		return doJSON(http.MethodPost, "/v1/tools/disconnect", body, nil)
	},
}
