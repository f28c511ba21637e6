package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) newOrderCmd() *cobra.Command {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and manage committed orders",
	}

	getCmd := &cobra.Command{
		Use:   "get <order-id>",
		Short: "Print an order with its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := c.callContext(cmd.Context())
			defer cancel()
			view, err := client.GetOrder(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}

	var cancelReason string
	cancelCmd := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an order and return its stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := c.callContext(cmd.Context())
			defer cancel()
			if err := client.CancelOrder(ctx, args[0], cancelReason); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "order %s cancelled\n", args[0])
			return err
		},
	}
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason")

	advanceCmd := &cobra.Command{
		Use:   "advance <order-id> <status>",
		Short: "Move an order to processing, shipped or delivered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := c.callContext(cmd.Context())
			defer cancel()
			if err := client.AdvanceOrder(ctx, args[0], args[1]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "order %s -> %s\n", args[0], args[1])
			return err
		},
	}

	orderCmd.AddCommand(getCmd, cancelCmd, advanceCmd)
	return orderCmd
}

func (c *cli) newQuoteCmd() *cobra.Command {
	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Accept or reject saved quotes",
	}

	acceptCmd := &cobra.Command{
		Use:   "accept <quote-id>",
		Short: "Convert a quote into an order at the quoted prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := c.callContext(cmd.Context())
			defer cancel()
			reply, err := client.AcceptQuote(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reply.Result)
		},
	}

	var rejectReason string
	rejectCmd := &cobra.Command{
		Use:   "reject <quote-id>",
		Short: "Reject a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := c.callContext(cmd.Context())
			defer cancel()
			if err := client.RejectQuote(ctx, args[0], rejectReason); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "quote %s rejected\n", args[0])
			return err
		},
	}
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason")

	quoteCmd.AddCommand(acceptCmd, rejectCmd)
	return quoteCmd
}
