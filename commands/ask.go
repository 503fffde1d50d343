package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/semsync/agent"
	"github.com/c360studio/semsync/permission"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		user string
		org  string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the agent a question over the synced knowledge",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			app := newApp(cfg, logger)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer app.Stop()

			// The CLI caller may use every registered tool.
			app.perms.AssignRole(user, "cli")
			app.perms.GrantTool("cli", permission.Wildcard)

			loop := agent.New(app.completer,
				agent.WithRegistry(app.registry),
				agent.WithRetriever(app.retriever),
				agent.WithCaches(app.caches),
				agent.WithPermissions(app.perms),
				agent.WithLogger(logger))

			state, err := loop.Run(cmd.Context(), agent.Query{
				UserID:   user,
				OrgKey:   org,
				Question: strings.Join(args, " "),
			})
			if state != nil {
				app.metrics.ObserveAgentRun(state.Iteration)
				for _, res := range state.ToolResults {
					app.metrics.ObserveToolInvocation(res.ToolName, res.Failed, res.Cached)
				}
			}
			if err != nil {
				return err
			}

			for chunk := range agent.Stream(cmd.Context(), state.Final, true) {
				if chunk.Done {
					fmt.Println()
					if chunk.Response.Reason != "" {
						fmt.Fprintf(os.Stderr, "reason: %s\n", chunk.Response.Reason)
					}
					fmt.Fprintf(os.Stderr, "confidence: %s\n", chunk.Response.Confidence)
					if len(chunk.Response.BlockNumbers) > 0 {
						fmt.Fprintf(os.Stderr, "cited blocks: %v\n", chunk.Response.BlockNumbers)
					}
					continue
				}
				fmt.Print(chunk.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "User id making the request")
	cmd.Flags().StringVar(&org, "org", "default", "Organization scope")
	return cmd
}
