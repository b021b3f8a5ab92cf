package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// addAuthCommands adds Kite session commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newLogoutCmd(app))
	rootCmd.AddCommand(newAuthStatusCmd(app))
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to Zerodha Kite Connect",
		Long: `Login to Zerodha Kite Connect.

Prints the Kite login URL and reads the request_token from the redirect.
The access token is saved and reused until it expires at 06:00 IST.`,
		Example: `  chartpatterns login
  chartpatterns login --token=<request_token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			zb, err := app.Broker()
			if err != nil {
				output.Error("Broker not configured: %v", err)
				return err
			}

			if err := zb.Login(ctx); err == nil {
				output.Success("✓ Already logged in")
				return nil
			}

			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				output.Bold("Login URL:")
				output.Println(zb.GetLoginURL())
				output.Println()
				output.Info("After logging in, you'll be redirected to a URL like:")
				output.Dim("  https://your-redirect-url.com/?request_token=XXXXXX&status=success")
				output.Bold("Paste the request_token value here:")
				output.Printf("> ")

				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				token = strings.TrimSpace(line)
			}
			if token == "" {
				output.Error("No token provided")
				return fmt.Errorf("no token provided")
			}

			if err := zb.CompleteLogin(ctx, token); err != nil {
				output.Error("Login failed: %v", err)
				return err
			}
			output.Success("✓ Login successful")
			return nil
		},
	}

	cmd.Flags().String("token", "", "request token from the Kite redirect")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout and remove the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			zb, err := app.Broker()
			if err != nil {
				return err
			}
			if err := zb.Logout(cmd.Context()); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}
			output.Success("✓ Logged out")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Kite session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			zb, err := app.Broker()
			if err != nil {
				return err
			}
			authenticated := zb.IsAuthenticated()
			if output.IsJSON() {
				return output.JSON(map[string]bool{"authenticated": authenticated})
			}
			if authenticated {
				output.Success("✓ Logged in")
			} else {
				output.Warning("Not logged in. Run 'chartpatterns login'.")
			}
			return nil
		},
	}
}
