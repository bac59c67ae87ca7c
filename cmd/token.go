package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"songmill/config"
	"songmill/core/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for testing",
	Long:  `Sign a JWT with the configured secret so the mutating API endpoints can be exercised locally.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		auth.Init(cfg.JWTSecret)

		token, err := auth.GenerateToken(args[0], tokenTTL)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
