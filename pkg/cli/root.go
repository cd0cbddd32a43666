// Package cli implements the shelf command line client: CRUD and sync
// operations against a running object store server.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host     string
		token    string
		user     string
		password string
	)

	client := NewClient(host)

	rootCmd := &cobra.Command{
		Use:           "shelf",
		Short:         "Object store CLI",
		Long:          "Command-line client for the shelfstore HTTP API: buckets, collections, records, and groups.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Precedence: flag > env > default.
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("SHELF_HOST"); v != "" {
					host = v
				}
			}
			if !cmd.Flags().Changed("token") {
				if v := os.Getenv("SHELF_TOKEN"); v != "" {
					token = v
				}
			}
			client.BaseURL = host
			client.Token = token
			client.User = user
			client.Password = password
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8888", "API host URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT bearer token")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Basic auth user")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Basic auth password")

	rootCmd.AddCommand(newGetCmd(client))
	rootCmd.AddCommand(newListCmd(client))
	rootCmd.AddCommand(newPutCmd(client))
	rootCmd.AddCommand(newCreateCmd(client))
	rootCmd.AddCommand(newPatchCmd(client))
	rootCmd.AddCommand(newDeleteCmd(client))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// printJSON renders a response body with indentation.
func printJSON(cmd *cobra.Command, body map[string]interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}
