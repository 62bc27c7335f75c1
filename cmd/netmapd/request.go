/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/infra/x509path"
	"github.com/kentakayama/netmap-over-http/internal/keys"
	"github.com/spf13/cobra"
)

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Administer certificate requests",
	}
	cmd.AddCommand(
		requestSubmitCmd(),
		requestShowCmd(),
		requestTicketCmd(),
		requestApproveCmd(),
		requestRejectCmd(),
		requestCertPathCmd(),
		requestRevokeCmd(),
	)
	return cmd
}

func requestSubmitCmd() *cobra.Command {
	var (
		name    string
		nodeKey string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a certificate request for a node key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keys.Load(nodeKey)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				id, err := s.requests.SaveRequest(ctx, name, key.Public())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "legal name, e.g. O=Bank A,L=London,C=GB")
	cmd.Flags().StringVar(&nodeKey, "node-key", "", "node private COSE_Key file")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("node-key")

	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a certificate request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				req, err := s.requests.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "id\t%s\n", req.ID)
				fmt.Fprintf(w, "legal name\t%s\n", req.LegalName)
				fmt.Fprintf(w, "key hash\t%s\n", req.PublicKeyHash)
				fmt.Fprintf(w, "status\t%s\n", req.Status)
				fmt.Fprintf(w, "modified by\t%s\n", req.ModifiedBy)
				if req.Remark != "" {
					fmt.Fprintf(w, "remark\t%s\n", req.Remark)
				}
				if req.CertificateStatus != nil {
					fmt.Fprintf(w, "certificate\t%s (%d certificates)\n", *req.CertificateStatus, len(req.CertPath))
				}
				fmt.Fprintf(w, "modified at\t%s\n", req.ModifiedAt.Format("2006-01-02T15:04:05Z07:00"))
				return w.Flush()
			})
		},
	}
}

func requestTicketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ticket <id>",
		Short: "Mark a submitted request as under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				return s.requests.MarkRequestTicketCreated(ctx, args[0])
			})
		},
	}
}

func requestApproveCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a request under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				return s.requests.ApproveRequest(ctx, args[0], by)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "approver")
	cmd.MarkFlagRequired("by")
	return cmd
}

func requestRejectCmd() *cobra.Command {
	var by, reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				return s.requests.RejectRequest(ctx, args[0], by, reason)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "reviewer")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	cmd.MarkFlagRequired("by")
	return cmd
}

func requestCertPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cert-path <id> <chain.pem>",
		Short: "Attach the issued certificate path to an approved request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := x509path.LoadPath(args[1])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				return s.requests.PutCertificatePath(ctx, args[0], path)
			})
		},
	}
}

func requestRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke the certificate of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				return s.requests.RevokeCertificate(ctx, args[0])
			})
		},
	}
}
