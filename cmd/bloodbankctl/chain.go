package main

import (
	"context"

	"github.com/spf13/cobra"

	"BloodBank-Chain/sdk/go/bloodbank"
)

func newChainCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "合约读写",
	}
	cmd.AddCommand(
		newChainDonateCmd(opts),
		newChainRequestCmd(opts),
		&cobra.Command{
			Use:   "stats",
			Short: "读取合约统计",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
					return c.ChainStats(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "inventory",
			Short: "读取各血型的链上库存",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
					return c.ChainInventory(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "events",
			Short: "显示事件监听状态与计数",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
					return c.ChainEvents(ctx)
				})
			},
		},
	)
	return cmd
}

func newChainDonateCmd(opts *options) *cobra.Command {
	var form bloodbank.DonationForm
	cmd := &cobra.Command{
		Use:   "donate",
		Short: "提交一次捐献 (450 ml) 并等待上链",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.Donate(ctx, form)
			})
		},
	}
	cmd.Flags().StringVar(&form.BloodType, "blood-type", "", "血型，例如 O+")
	cmd.Flags().StringVar(&form.DonorName, "name", "", "献血者姓名")
	cmd.Flags().IntVar(&form.Age, "age", 0, "献血者年龄 (17-70)")
	cmd.Flags().StringVar(&form.Contact, "contact", "", "联系方式 (至少 10 位)")
	_ = cmd.MarkFlagRequired("blood-type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newChainRequestCmd(opts *options) *cobra.Command {
	var (
		form bloodbank.RequestForm
		age  int
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "提交用血申请并等待上链",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("age") {
				form.Age = &age
			}
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.RequestBlood(ctx, form)
			})
		},
	}
	cmd.Flags().StringVar(&form.BloodType, "blood-type", "", "血型，例如 AB-")
	cmd.Flags().IntVar(&form.Units, "units", 1, "申请单位数，每单位 450 ml")
	cmd.Flags().StringVar(&form.RecipientName, "recipient", "", "受血者姓名")
	cmd.Flags().IntVar(&age, "age", 0, "受血者年龄 (0-120)")
	cmd.Flags().StringVar(&form.Contact, "contact", "", "联系方式 (至少 10 位)")
	cmd.Flags().StringVar(&form.Hospital, "hospital", "", "医院")
	cmd.Flags().StringVar(&form.Reason, "reason", "", "用血原因")
	_ = cmd.MarkFlagRequired("blood-type")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}
