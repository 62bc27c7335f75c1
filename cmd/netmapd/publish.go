/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/netmap"
	"github.com/kentakayama/netmap-over-http/internal/util"
	"github.com/spf13/cobra"
)

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Run one network map signing round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *services, cfg config.ServerConfig) error {
				key, err := loadNetworkMapKey(cfg)
				if err != nil {
					return err
				}
				published, err := netmap.NewSigner(s.repos, key, s.logger).SignNetworkMap(ctx)
				if err != nil {
					return err
				}
				if !published {
					fmt.Fprintln(cmd.OutOrStdout(), "network map unchanged")
					return nil
				}
				current, err := s.maps.GetCurrentNetworkMap(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), current.Hash())
				return nil
			})
		},
	}
}

func nodeInfosCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "node-infos",
		Short: "List node info hashes by certificate status",
		Long: `List node info hashes. "valid" lists node infos in the current network map whose
certificate is valid; "revoked" lists node infos whose certificate was revoked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cs model.CertificateStatus
			switch status {
			case "valid":
				cs = model.CertificateStatusValid
			case "revoked":
				cs = model.CertificateStatusRevoked
			default:
				return fmt.Errorf("unknown certificate status %q (valid or revoked)", status)
			}
			return withServices(cmd, func(ctx context.Context, s *services, _ config.ServerConfig) error {
				hashes, err := s.requests.GetNodeInfoHashes(ctx, cs)
				if err != nil {
					return err
				}
				for _, h := range hashes {
					fmt.Fprintln(cmd.OutOrStdout(), h)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "valid", "certificate status: valid or revoked")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Render a CBOR file, such as a signed node info, as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			pretty, err := util.RenderCBORPretty(data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty)
			return nil
		},
	}
}
