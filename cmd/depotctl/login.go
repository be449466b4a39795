package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and print an access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginUsername == "" || loginPassword == "" {
			return fmt.Errorf("--username and --password are required")
		}

		var resp struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
		}
		err := newClient().postJSON("/auth/token", map[string]string{
			"username": loginUsername,
			"password": loginPassword,
		}, &resp)
		if err != nil {
			return err
		}

		if outputFmt == "json" {
			return printJSON(resp)
		}
		fmt.Println(resp.AccessToken)
		fmt.Println()
		fmt.Println("export DEPOT_TOKEN=" + resp.AccessToken)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password")
}
