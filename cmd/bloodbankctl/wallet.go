package main

import (
	"context"

	"github.com/spf13/cobra"

	"BloodBank-Chain/sdk/go/bloodbank"
)

func newWalletCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "钱包会话",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "session",
			Short: "显示当前会话快照",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
					return c.Session(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "connect",
			Short: "请求钱包授权并连接合约",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
					return c.Connect(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "断开钱包会话",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
					return c.Disconnect(ctx)
				})
			},
		},
	)
	return cmd
}
