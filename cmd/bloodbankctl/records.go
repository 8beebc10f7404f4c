package main

import (
	"context"

	"github.com/spf13/cobra"

	"BloodBank-Chain/sdk/go/bloodbank"
)

// optional 仅在标志被显式设置时返回指针。
func optional(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func newDonationsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "donations", Short: "链下捐献记录"}

	var filter bloodbank.Filter
	list := &cobra.Command{
		Use:   "list",
		Short: "列出捐献记录，按时间倒序",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.ListDonations(ctx, filter)
			})
		},
	}
	list.Flags().StringVar(&filter.Address, "donor", "", "按献血者地址过滤")
	list.Flags().StringVar(&filter.Status, "status", "", "按状态过滤")

	var in bloodbank.DonationInput
	create := &cobra.Command{
		Use:   "create",
		Short: "登记一条已上链的捐献",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.CreateDonation(ctx, in)
			})
		},
	}
	create.Flags().StringVar(&in.TransactionHash, "tx", "", "交易哈希")
	create.Flags().StringVar(&in.DonorAddress, "donor", "", "献血者地址")
	create.Flags().StringVar(&in.BloodType, "blood-type", "", "血型")
	create.Flags().IntVar(&in.Quantity, "quantity", 450, "献血量 (ml)")
	create.Flags().StringVar(&in.DonorName, "name", "", "献血者姓名")
	create.Flags().IntVar(&in.Age, "age", 0, "献血者年龄")
	create.Flags().StringVar(&in.Contact, "contact", "", "联系方式")

	update := &cobra.Command{
		Use:   "update <id> <status>",
		Short: "更新捐献状态",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.UpdateDonation(ctx, args[0], args[1])
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "删除捐献记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return map[string]bool{"success": true}, c.DeleteDonation(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(list, create, update, del)
	return cmd
}

func newInventoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "inventory", Short: "链下库存"}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "按血型汇总库存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.InventorySummary(ctx)
			})
		},
	}

	var (
		in         bloodbank.InventoryInput
		donationID string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "入库一个血液单位",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.DonationID = optional(cmd, "donation", donationID)
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.AddInventory(ctx, in)
			})
		},
	}
	add.Flags().StringVar(&in.BloodType, "blood-type", "", "血型")
	add.Flags().IntVar(&in.Quantity, "quantity", 450, "数量 (ml)")
	add.Flags().StringVar(&donationID, "donation", "", "来源捐献记录 ID")

	var requestID string
	update := &cobra.Command{
		Use:   "update <id> <status>",
		Short: "更新库存单位状态",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			linked := optional(cmd, "request", requestID)
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.UpdateInventoryItem(ctx, args[0], args[1], linked)
			})
		},
	}
	update.Flags().StringVar(&requestID, "request", "", "关联的用血申请 ID")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "删除已过期的库存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				deleted, err := c.PurgeExpired(ctx)
				return map[string]int64{"deletedCount": deleted}, err
			})
		},
	}

	cmd.AddCommand(summary, add, update, purge)
	return cmd
}

func newRequestsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "requests", Short: "链下用血申请"}

	var filter bloodbank.Filter
	list := &cobra.Command{
		Use:   "list",
		Short: "列出用血申请，按时间倒序",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.ListRequests(ctx, filter)
			})
		},
	}
	list.Flags().StringVar(&filter.Address, "requester", "", "按申请人地址过滤")
	list.Flags().StringVar(&filter.Status, "status", "", "按状态过滤")

	var in bloodbank.RequestInput
	create := &cobra.Command{
		Use:   "create",
		Short: "登记一条已上链的用血申请",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.CreateRequest(ctx, in)
			})
		},
	}
	create.Flags().StringVar(&in.TransactionHash, "tx", "", "交易哈希")
	create.Flags().StringVar(&in.RequesterAddress, "requester", "", "申请人地址")
	create.Flags().StringVar(&in.BloodType, "blood-type", "", "血型")
	create.Flags().IntVar(&in.Quantity, "quantity", 450, "申请量 (ml)")
	create.Flags().StringVar(&in.RecipientName, "recipient", "", "受血者姓名")
	create.Flags().IntVar(&in.Age, "age", 0, "受血者年龄")
	create.Flags().StringVar(&in.Contact, "contact", "", "联系方式")
	create.Flags().StringVar(&in.Hospital, "hospital", "", "医院")
	create.Flags().StringVar(&in.Reason, "reason", "", "用血原因")

	var fulfilledBy string
	update := &cobra.Command{
		Use:   "update <id> <status>",
		Short: "更新用血申请状态",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			by := optional(cmd, "fulfilled-by", fulfilledBy)
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.UpdateRequest(ctx, args[0], args[1], by)
			})
		},
	}
	update.Flags().StringVar(&fulfilledBy, "fulfilled-by", "", "供血方")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "删除用血申请",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return map[string]bool{"success": true}, c.DeleteRequest(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(list, create, update, del)
	return cmd
}

func newUsersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "用户资料"}

	get := &cobra.Command{
		Use:   "get [address]",
		Short: "按地址查询用户，省略地址时列出全部用户",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				if len(args) == 1 {
					return c.GetUser(ctx, args[0])
				}
				return c.ListUsers(ctx)
			})
		},
	}

	var in bloodbank.UserInput
	bind := func(c *cobra.Command) {
		c.Flags().StringVar(&in.Address, "address", "", "钱包地址")
		c.Flags().StringVar(&in.Name, "name", "", "姓名")
		c.Flags().StringVar(&in.Email, "email", "", "邮箱")
		c.Flags().StringVar(&in.Role, "role", "", "角色: DONOR、HOSPITAL 或 ADMIN")
		_ = c.MarkFlagRequired("address")
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "创建用户",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.CreateUser(ctx, in)
			})
		},
	}
	bind(create)
	update := &cobra.Command{
		Use:   "update",
		Short: "更新用户资料，只提交指定的字段",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			changes := bloodbank.UserUpdate{
				Address: in.Address,
				Name:    optional(cmd, "name", in.Name),
				Email:   optional(cmd, "email", in.Email),
				Role:    optional(cmd, "role", in.Role),
			}
			return opts.call(cmd, func(ctx context.Context, c *bloodbank.Client) (any, error) {
				return c.UpdateUser(ctx, changes)
			})
		},
	}
	bind(update)

	cmd.AddCommand(get, create, update)
	return cmd
}
