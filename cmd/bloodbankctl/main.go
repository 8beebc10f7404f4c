// Command bloodbankctl drives a running bloodbankd over its REST API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"BloodBank-Chain/sdk/go/bloodbank"
)

const envServer = "BLOODBANK_SERVER"

type options struct {
	server  string
	timeout time.Duration
	output  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "bloodbankctl",
		Short:         "BloodBank 守护进程命令行工具",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	server := os.Getenv(envServer)
	if server == "" {
		server = "http://127.0.0.1:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "bloodbankd 地址 (也可通过 "+envServer+" 设置)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", bloodbank.DefaultHTTPTimeout, "单次请求超时")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "输出格式: json 或 yaml")

	root.AddCommand(
		newWalletCmd(opts),
		newChainCmd(opts),
		newDonationsCmd(opts),
		newInventoryCmd(opts),
		newRequestsCmd(opts),
		newUsersCmd(opts),
	)
	return root
}

// call 构造客户端并在超时上下文中执行 fn。
func (o *options) call(cmd *cobra.Command, fn func(ctx context.Context, c *bloodbank.Client) (any, error)) error {
	client, err := bloodbank.NewClient(o.server, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	out, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return o.print(cmd.OutOrStdout(), out)
}

func (o *options) print(w io.Writer, v any) error {
	switch strings.ToLower(o.output) {
	case "yaml", "yml":
		// 先经 JSON 转换，保证字段名与接口一致。
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("未知的输出格式: %s", o.output)
	}
}
