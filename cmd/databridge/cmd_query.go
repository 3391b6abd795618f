package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/databridge/internal/bootstrap"
	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/render"
	"github.com/user/databridge/internal/types"
)

func init() {
	rootCmd.AddCommand(queryCmd, chatCmd)

	queryCmd.Flags().String("session", string(types.DefaultSessionID), "session id")
	queryCmd.Flags().Bool("json", false, "print the full response as JSON")
	chatCmd.Flags().String("session", "cli", "session id")
}

var queryCmd = &cobra.Command{
	Use:   "query <request...>",
	Short: "Send one request to the data service and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withGateway(cmd.Context(), func(ctx context.Context, gw *gateway.Gateway) error {
			resp, err := gw.HandleQuery(ctx, gateway.Query{
				UserRequest: strings.Join(args, " "),
				SessionID:   types.SessionID(session),
			})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp, asJSON)
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation; each request is sent with the previous one as context",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		id := types.SessionID(session)
		out := cmd.OutOrStdout()

		return withGateway(cmd.Context(), func(ctx context.Context, gw *gateway.Gateway) error {
			fmt.Fprintln(out, "Ask for data. /reset starts over, /quit exits.")
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/reset":
					gw.HandleReset(ctx, id)
					fmt.Fprintln(out, "Conversation reset.")
					continue
				}

				resp, err := gw.HandleQuery(ctx, gateway.Query{UserRequest: line, SessionID: id, UseContext: true})
				if err != nil {
					fmt.Fprintln(out, "Error:", err)
					continue
				}
				fmt.Fprintln(out, render.Markdown(resp))
			}
		})
	},
}

// withGateway runs fn against a started in-process gateway.
func withGateway(ctx context.Context, fn func(ctx context.Context, gw *gateway.Gateway) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := loadConfig()
	logger := setupLogging(cfg)

	c, err := bootstrap.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Gateway.Start(ctx)
	defer c.Gateway.Stop()
	return fn(ctx, c.Gateway)
}

func printResponse(w io.Writer, resp *gateway.Response, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, render.Markdown(resp))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

